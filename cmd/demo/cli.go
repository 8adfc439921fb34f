package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
	"github.com/shinyes/yep_cvrdt/pkg/store"
)

func printBanner(w io.Writer, c *cluster, dataRoot string) {
	fmt.Fprintln(w, "yep_cvrdt 交互 Demo")
	fmt.Fprintf(w, "副本:      %s\n", strings.Join(c.ids(), ", "))
	fmt.Fprintf(w, "数据目录:  %s\n", dataRoot)
	fmt.Fprintln(w, "副本之间只通过 sync 交换状态，未同步的修改互相不可见")
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "\n命令：")
	fmt.Fprintln(w, "  help")
	fmt.Fprintln(w, "  inc <r> [n]              计数器加 n")
	fmt.Fprintln(w, "  dec <r> [n]              计数器减 n")
	fmt.Fprintln(w, "  set <r> <title>          写入标题 (LWW)")
	fmt.Fprintln(w, "  tag <r> <tag>            添加标签 (ORSet)")
	fmt.Fprintln(w, "  untag <r> <tag>          移除标签")
	fmt.Fprintln(w, "  vertex <r>               创建顶点 (ORGraph)")
	fmt.Fprintln(w, "  edge <r> <from> <to>     添加边，顶点写作 node:counter")
	fmt.Fprintln(w, "  rmvertex <r> <v>")
	fmt.Fprintln(w, "  rmedge <r> <from> <to>")
	fmt.Fprintln(w, "  sync <from> <to>         把 from 的状态合并进 to")
	fmt.Fprintln(w, "  syncall")
	fmt.Fprintln(w, "  compare <a> <b>          比较两个副本的向量时钟")
	fmt.Fprintln(w, "  show [r]")
	fmt.Fprintln(w, "  save [r]                 写入快照，重启后恢复")
	fmt.Fprintln(w, "  backup <r> <file>        保存快照并导出副本存储")
	fmt.Fprintln(w, "  gc                       全量同步后回收墓碑")
	fmt.Fprintln(w, "  retire <r>               副本永久离开集群")
	fmt.Fprintln(w, "  quit")
}

func (c *cluster) ids() []string {
	out := make([]string, len(c.order))
	for i, id := range c.order {
		out[i] = string(id)
	}
	return out
}

// local 在持有副本锁的情况下执行一次本地修改并推进它的事件时钟。
func (c *cluster) local(id string, fn func(r *replica) error) error {
	r, err := c.get(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := fn(r); err != nil {
		return err
	}
	r.tick()
	return nil
}

func handleCommand(c *cluster, w io.Writer, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}

	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "help":
		printHelp(w)
		return false, nil

	case "inc", "dec":
		id, delta, err := parseCounterArgs(parts, cmd+" <r> [n]")
		if err != nil {
			return false, err
		}
		err = c.local(id, func(r *replica) error {
			if cmd == "inc" {
				return r.views.Increase(delta)
			}
			return r.views.Decrease(delta)
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintln(w, "成功")
		return false, nil

	case "set":
		if len(parts) < 3 {
			return false, fmt.Errorf("用法: set <r> <title>")
		}
		title := strings.TrimSpace(strings.Join(parts[2:], " "))
		err := c.local(parts[1], func(r *replica) error {
			r.title.Set([]byte(title))
			return nil
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintln(w, "成功")
		return false, nil

	case "tag", "untag":
		if len(parts) != 3 {
			return false, fmt.Errorf("用法: %s <r> <tag>", cmd)
		}
		err := c.local(parts[1], func(r *replica) error {
			if cmd == "tag" {
				t := r.tags.Add(parts[2])
				fmt.Fprintf(w, "令牌: %s\n", t)
				return nil
			}
			r.tags.Remove(parts[2])
			return nil
		})
		return false, err

	case "vertex":
		if len(parts) != 2 {
			return false, fmt.Errorf("用法: vertex <r>")
		}
		return false, c.local(parts[1], func(r *replica) error {
			fmt.Fprintf(w, "顶点: %s\n", r.graph.CreateVertex())
			return nil
		})

	case "edge", "rmedge":
		if len(parts) != 4 {
			return false, fmt.Errorf("用法: %s <r> <from> <to>", cmd)
		}
		from, err := parseToken(parts[2])
		if err != nil {
			return false, err
		}
		to, err := parseToken(parts[3])
		if err != nil {
			return false, err
		}
		return false, c.local(parts[1], func(r *replica) error {
			if cmd == "rmedge" {
				return r.graph.RemoveEdge(from, to)
			}
			t, err := r.graph.AddEdge(from, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "边: %s (令牌 %s)\n", crdt.Edge{From: from, To: to}, t)
			return nil
		})

	case "rmvertex":
		if len(parts) != 3 {
			return false, fmt.Errorf("用法: rmvertex <r> <v>")
		}
		v, err := parseToken(parts[2])
		if err != nil {
			return false, err
		}
		return false, c.local(parts[1], func(r *replica) error {
			return r.graph.RemoveVertex(v)
		})

	case "sync":
		if len(parts) != 3 {
			return false, fmt.Errorf("用法: sync <from> <to>")
		}
		from, err := c.get(parts[1])
		if err != nil {
			return false, err
		}
		to, err := c.get(parts[2])
		if err != nil {
			return false, err
		}
		if from == to {
			return false, fmt.Errorf("不能与自身同步")
		}
		if err := c.syncPair(from, to); err != nil {
			return false, err
		}
		fmt.Fprintf(w, "%s -> %s 完成\n", from.id, to.id)
		return false, nil

	case "syncall":
		if err := c.syncAll(); err != nil {
			return false, err
		}
		fmt.Fprintln(w, "全部副本已收敛")
		return false, nil

	case "compare":
		if len(parts) != 3 {
			return false, fmt.Errorf("用法: compare <a> <b>")
		}
		a, err := c.get(parts[1])
		if err != nil {
			return false, err
		}
		b, err := c.get(parts[2])
		if err != nil {
			return false, err
		}
		a.mu.Lock()
		ca := a.clock.Copy()
		a.mu.Unlock()
		b.mu.Lock()
		cb := b.clock.Copy()
		b.mu.Unlock()
		fmt.Fprintf(w, "%s %s %s\n", a.id, ca.Compare(cb), b.id)
		return false, nil

	case "show":
		targets := c.ids()
		if len(parts) >= 2 {
			targets = parts[1:]
		}
		for _, id := range targets {
			r, err := c.get(id)
			if err != nil {
				return false, err
			}
			r.mu.Lock()
			printReplica(w, r)
			r.mu.Unlock()
		}
		return false, nil

	case "save":
		targets := c.ids()
		if len(parts) >= 2 {
			targets = parts[1:]
		}
		for _, id := range targets {
			r, err := c.get(id)
			if err != nil {
				return false, err
			}
			if err := r.save(); err != nil {
				return false, err
			}
		}
		fmt.Fprintf(w, "已保存 %d 个副本\n", len(targets))
		return false, nil

	case "backup":
		if len(parts) != 3 {
			return false, fmt.Errorf("用法: backup <r> <file>")
		}
		r, err := c.get(parts[1])
		if err != nil {
			return false, err
		}
		if err := r.save(); err != nil {
			return false, err
		}
		kv, err := c.stores.Get(parts[1])
		if err != nil {
			return false, err
		}
		version, err := store.BackupToFile(kv, parts[2], 0)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(w, "已备份到 %s (version=%d)\n", parts[2], version)
		return false, nil

	case "gc":
		dropped, err := c.compact()
		if err != nil {
			return false, err
		}
		for _, id := range c.order {
			fmt.Fprintf(w, "%s 回收 %d 项\n", id, dropped[id])
		}
		return false, nil

	case "retire":
		if len(parts) != 2 {
			return false, fmt.Errorf("用法: retire <r>")
		}
		if len(c.order) < 2 {
			return false, fmt.Errorf("至少需要保留一个副本")
		}
		if err := c.retire(crdt.NodeID(parts[1])); err != nil {
			return false, err
		}
		fmt.Fprintf(w, "%s 已离开，剩余: %s\n", parts[1], strings.Join(c.ids(), ", "))
		return false, nil

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("未知命令: %s", cmd)
	}
}
