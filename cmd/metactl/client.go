package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dreamware/shardmeta/internal/cluster"
	"github.com/dreamware/shardmeta/internal/meta"
)

var httpClient = &http.Client{}

type client struct {
	base string
	out  io.Writer
}

// request sends body (if any) and decodes a ShardResponse from any JSON
// answer, whatever its HTTP status.
func (c *client) request(ctx context.Context, method, path string, body any) (cluster.ShardResponse, error) {
	var res cluster.ShardResponse
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return res, err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "application/json" {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return res, fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}

func (c *client) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report prints res and turns a non-success status into an error.
func (c *client) report(res cluster.ShardResponse) error {
	if err := c.print(res); err != nil {
		return err
	}
	if res.Status != meta.StatusSuccess.String() {
		return fmt.Errorf("%w: %s", errStatus, res.Status)
	}
	return nil
}

func parseShardID(fs *flag.FlagSet, args []string) (uint64, error) {
	if len(args) == 0 {
		return 0, errors.New("missing shard id")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid shard id %q", args[0])
	}
	return id, fs.Parse(args[1:])
}

func (c *client) get(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	typ := fs.String("type", "", "replication type of the shard")
	metaShard := fs.String("meta-shard", "", "meta shard holding the record")
	id, err := parseShardID(fs, args)
	if err != nil {
		return err
	}

	res, err := c.fetch(ctx, id, *typ, *metaShard)
	if err != nil {
		return err
	}
	return c.report(res)
}

func (c *client) fetch(ctx context.Context, id uint64, typ, metaShard string) (cluster.ShardResponse, error) {
	path := fmt.Sprintf("/shards/%d", id)
	q := ""
	if typ != "" {
		q += "&type=" + typ
	}
	if metaShard != "" {
		q += "&meta_shard=" + metaShard
	}
	if q != "" {
		path += "?" + q[1:]
	}
	return c.request(ctx, http.MethodGet, path, nil)
}

var writeMethods = map[string]string{
	"create": http.MethodPost,
	"put":    http.MethodPut,
	"delete": http.MethodDelete,
}

func (c *client) write(ctx context.Context, cmd string, args []string, stdin io.Reader) error {
	if len(args) != 1 {
		return fmt.Errorf("%s takes one file argument, or - for stdin", cmd)
	}
	in := stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var doc cluster.ShardMetaDoc
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if _, err := doc.ToMeta(); err != nil {
		return err
	}
	res, err := c.request(ctx, writeMethods[cmd], fmt.Sprintf("/shards/%d", doc.ShardID), &doc)
	if err != nil {
		return err
	}
	return c.report(res)
}

// current reads the record that claim and release build on.
func (c *client) current(ctx context.Context, id uint64, typ string) (*cluster.ShardMetaDoc, error) {
	res, err := c.fetch(ctx, id, typ, "")
	if err != nil {
		return nil, err
	}
	if res.Status != meta.StatusSuccess.String() || res.Meta == nil {
		return nil, fmt.Errorf("%w: reading shard %d: %s", errStatus, id, res.Status)
	}
	return res.Meta, nil
}

// claim makes node the home of the shard. The write advances seqno, and
// ltime too when the home moves.
func (c *client) claim(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	node := fs.Int("node", -1, "node to make home")
	leaseDur := fs.Duration("lease", 5*time.Second, "lease length")
	typ := fs.String("type", "", "replication type of the shard")
	id, err := parseShardID(fs, args)
	if err != nil {
		return err
	}
	if *node < 0 {
		return errors.New("claim needs -node")
	}

	doc, err := c.current(ctx, id, *typ)
	if err != nil {
		return err
	}
	home := meta.NodeID(*node)
	if doc.CurrentHome != home {
		doc.LastHome = doc.CurrentHome
		doc.Ltime++
	}
	doc.CurrentHome = home
	doc.WriteNode = home
	doc.LeaseUsecs = uint64(leaseDur.Microseconds())
	doc.Seqno++

	res, err := c.request(ctx, http.MethodPut, fmt.Sprintf("/shards/%d", id), doc)
	if err != nil {
		return err
	}
	return c.report(res)
}

// release clears node's lease, leaving the shard with no home.
func (c *client) release(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("release", flag.ContinueOnError)
	node := fs.Int("node", -1, "current home node")
	typ := fs.String("type", "", "replication type of the shard")
	id, err := parseShardID(fs, args)
	if err != nil {
		return err
	}
	if *node < 0 {
		return errors.New("release needs -node")
	}

	doc, err := c.current(ctx, id, *typ)
	if err != nil {
		return err
	}
	if doc.CurrentHome == meta.NodeNone {
		return c.print(cluster.ShardResponse{Status: meta.StatusSuccess.String(), Meta: doc})
	}
	doc.LastHome = doc.CurrentHome
	doc.CurrentHome = meta.NodeNone
	doc.WriteNode = meta.NodeID(*node)
	doc.LeaseUsecs = 0
	doc.LeaseLiveness = false
	doc.Ltime++
	doc.Seqno++

	res, err := c.request(ctx, http.MethodPut, fmt.Sprintf("/shards/%d", id), doc)
	if err != nil {
		return err
	}
	return c.report(res)
}

func parseBucket(args []string, want int) (uint64, error) {
	if len(args) != want {
		return 0, fmt.Errorf("expected %d arguments, got %d", want, len(args))
	}
	b, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bucket %q", args[0])
	}
	return b, nil
}

func (c *client) assign(ctx context.Context, args []string) error {
	bucket, err := parseBucket(args, 2)
	if err != nil {
		return err
	}
	node, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil || node < 0 {
		return fmt.Errorf("invalid node %q", args[1])
	}
	body := map[string]meta.NodeID{"node_id": meta.NodeID(node)}
	return c.send(ctx, http.MethodPut, fmt.Sprintf("/registry/%d", bucket), body)
}

func (c *client) unassign(ctx context.Context, args []string) error {
	bucket, err := parseBucket(args, 1)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodDelete, fmt.Sprintf("/registry/%d", bucket), nil)
}

// send issues an admin request and prints the JSON answer.
func (c *client) send(ctx context.Context, method, path string, body any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return c.print(v)
}

// show prints any JSON document the node serves at path.
func (c *client) show(ctx context.Context, path string) error {
	var v any
	if err := cluster.GetJSON(ctx, c.base+path, &v); err != nil {
		return err
	}
	return c.print(v)
}
