package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/shinyes/yep_cvrdt/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	replicas := flag.String("replicas", "r1,r2,r3", "逗号分隔的副本 ID，同时作为节点 ID")
	dataRoot := flag.String("data", "./tmp/demo_cvrdt", "数据根目录，每个副本一个子目录")
	script := flag.String("script", "", "可选：从文件读取命令，而不是标准输入")
	reset := flag.Bool("reset", false, "启动前重置数据目录")
	syncWrites := flag.Bool("sync-writes", false, "每次写入都同步落盘")
	debug := flag.Bool("debug", false, "输出内部日志")
	flag.Parse()

	if !*debug {
		log.SetOutput(io.Discard)
	}

	if *reset {
		if err := os.RemoveAll(*dataRoot); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(*dataRoot, 0o755); err != nil {
		return err
	}

	ids := splitIDs(*replicas)
	if len(ids) == 0 {
		return fmt.Errorf("至少需要一个副本")
	}

	c, err := newCluster(*dataRoot, ids, store.WithBadgerSyncWrites(*syncWrites))
	if err != nil {
		return err
	}
	defer c.Close()

	in := io.Reader(os.Stdin)
	interactive := *script == ""
	if !interactive {
		f, err := os.Open(*script)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	printBanner(os.Stdout, c, *dataRoot)
	if interactive {
		printHelp(os.Stdout)
	}
	return repl(c, in, os.Stdout, interactive)
}

// repl 逐行执行命令。非交互模式下遇到错误立即返回。
func repl(c *cluster, in io.Reader, out io.Writer, interactive bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !interactive {
			fmt.Fprintf(out, "> %s\n", line)
		}

		quit, err := handleCommand(c, out, line)
		if err != nil {
			if !interactive {
				return fmt.Errorf("%s: %w", line, err)
			}
			fmt.Fprintf(out, "错误: %v\n", err)
		}
		if quit {
			break
		}
	}

	return scanner.Err()
}

func splitIDs(raw string) []string {
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
