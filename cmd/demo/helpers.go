package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
)

func parseToken(raw string) (crdt.Token, error) {
	t, err := crdt.ParseToken(raw)
	if err != nil {
		return crdt.Token{}, fmt.Errorf("无效令牌 %q，格式为 <node>:<counter>", raw)
	}
	return t, nil
}

func parseCounterArgs(parts []string, usage string) (string, int64, error) {
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("用法: %s", usage)
	}
	delta := int64(1)
	if len(parts) >= 3 {
		n, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("无效数字: %w", err)
		}
		if n <= 0 {
			return "", 0, fmt.Errorf("n 必须大于 0")
		}
		delta = n
	}
	return parts[1], delta, nil
}

func joinTokens(ts []crdt.Token) string {
	if len(ts) == 0 {
		return "-"
	}
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// printReplica 输出副本的当前状态。调用方持有 r.mu。
func printReplica(w io.Writer, r *replica) {
	title, _ := r.title.Get()
	fmt.Fprintf(w, "[%s] title=%q views=%d (base=%d)\n", r.id, title, r.views.Int64(), r.views.Base())
	fmt.Fprintf(w, "  clock: %s\n", r.clock)
	tags := r.tags.Elements()
	slices.Sort(tags)
	fmt.Fprintf(w, "  tags:  %s\n", strings.Join(tags, ", "))

	vertices := r.graph.Vertices()
	fmt.Fprintf(w, "  vertices (%d): %s\n", len(vertices), joinTokens(vertices))
	edges := r.graph.Edges()
	fmt.Fprintf(w, "  edges (%d):", len(edges))
	for _, e := range edges {
		fmt.Fprintf(w, " %s", e)
	}
	fmt.Fprintln(w)
}
