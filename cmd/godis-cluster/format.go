package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/interface/redis"
	"github.com/CodingCaius/godis-cluster/redis/protocol"
)

// formatReply renders a reply the way redis-cli does
func formatReply(reply redis.Reply) string {
	var sb strings.Builder
	writeReply(&sb, reply, "")
	return sb.String()
}

func writeReply(sb *strings.Builder, reply redis.Reply, indent string) {
	switch r := reply.(type) {
	case *protocol.StatusReply:
		sb.WriteString(r.Status + "\n")
	case *protocol.OkReply:
		sb.WriteString("OK\n")
	case *protocol.IntReply:
		sb.WriteString("(integer) " + strconv.FormatInt(r.Code, 10) + "\n")
	case *protocol.BulkReply:
		if r.Arg == nil {
			sb.WriteString("(nil)\n")
			return
		}
		sb.WriteString(strconv.Quote(string(r.Arg)) + "\n")
	case *protocol.NullBulkReply:
		sb.WriteString("(nil)\n")
	case protocol.ErrorReply:
		sb.WriteString("(error) " + r.Error() + "\n")
	default:
		items, ok := protocol.ToArray(reply)
		if !ok {
			sb.Write(reply.ToBytes())
			return
		}
		if len(items) == 0 {
			sb.WriteString("(empty array)\n")
			return
		}
		for i, item := range items {
			prefix := fmt.Sprintf("%d) ", i+1)
			if i > 0 {
				sb.WriteString(indent)
			}
			sb.WriteString(prefix)
			writeReply(sb, item, indent+strings.Repeat(" ", len(prefix)))
		}
	}
}

func printSlots(w io.Writer, slots []cluster.SlotRange) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOTS\tMASTER\tREPLICAS")
	for _, r := range slots {
		replicas := make([]string, 0, len(r.Replicas))
		for _, replica := range r.Replicas {
			replicas = append(replicas, replica.Addr())
		}
		fmt.Fprintf(tw, "%d-%d\t%s\t%s\n", r.Start, r.End, r.Master.Addr(), strings.Join(replicas, ","))
	}
	_ = tw.Flush()
}

func printNodes(w io.Writer, nodes []cluster.NodeRecord, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADDR\tFLAGS\tMASTER\tLAST PONG\tEPOCH\tLINK\tSLOTS")
	for _, n := range nodes {
		pong := "-"
		if n.PongRecv > 0 {
			pong = humanize.RelTime(time.UnixMilli(n.PongRecv), now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			n.NodeID, n.IPPort, strings.Join(n.Flags, ","), n.MasterNodeID, pong, n.ConfigEpoch, n.LinkState, strings.Join(n.Slots, " "))
	}
	_ = tw.Flush()
}
