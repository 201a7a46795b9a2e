// Package plugin lets an external process supply the summarizer. The host
// launches the plugin binary and talks to it over go-plugin's net/rpc
// transport, so a crashing or misbehaving summarizer cannot take down the
// host process.
package plugin

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/summarize"
)

// HandshakeConfig guards against launching arbitrary binaries as plugins.
var HandshakeConfig = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "RECALL_PLUGIN_MAGIC_COOKIE",
	MagicCookieValue: "recall-memory",
}

// PluginMap names the plugins this host can dispense.
var PluginMap = map[string]hcplugin.Plugin{
	"summarizer": &SummarizerPlugin{},
}

// SummarizeArgs is the RPC request for a summarization pass.
type SummarizeArgs struct {
	PriorDigest string
	Candidates  []store.Turn
}

// SummarizeReply is the RPC response carrying the new digest text.
type SummarizeReply struct {
	Digest string
}

// SummarizerPlugin implements hcplugin.Plugin for the summarizer interface.
type SummarizerPlugin struct {
	Impl summarize.Summarizer
}

func (p *SummarizerPlugin) Server(*hcplugin.MuxBroker) (interface{}, error) {
	return &SummarizerRPCServer{Impl: p.Impl}, nil
}

func (p *SummarizerPlugin) Client(_ *hcplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &SummarizerRPC{client: c}, nil
}

// SummarizerRPC is the host-side stub that forwards summarization calls to
// the plugin process.
type SummarizerRPC struct {
	client *rpc.Client
}

// Summarize sends the prior digest and candidate turns to the plugin. The
// context deadline is honored by abandoning the call; the plugin process
// finishes or fails on its own.
func (s *SummarizerRPC) Summarize(ctx context.Context, priorDigest string, candidates []store.Turn) (string, error) {
	args := SummarizeArgs{PriorDigest: priorDigest, Candidates: candidates}
	var reply SummarizeReply

	done := make(chan error, 1)
	go func() {
		done <- s.client.Call("Plugin.Summarize", args, &reply)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", summarize.ErrSummarization, ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("%w: %v", summarize.ErrSummarization, err)
		}
	}
	if reply.Digest == "" {
		return "", fmt.Errorf("%w: plugin returned empty digest", summarize.ErrSummarization)
	}
	return reply.Digest, nil
}

// SummarizerRPCServer runs inside the plugin process and calls the real
// implementation.
type SummarizerRPCServer struct {
	Impl summarize.Summarizer
}

func (s *SummarizerRPCServer) Summarize(args SummarizeArgs, reply *SummarizeReply) error {
	digest, err := s.Impl.Summarize(context.Background(), args.PriorDigest, args.Candidates)
	if err != nil {
		return err
	}
	reply.Digest = digest
	return nil
}

// Client launches the plugin binary at path and returns a Summarizer backed
// by it. The returned hcplugin.Client must be killed when done.
func Client(path string) (summarize.Summarizer, *hcplugin.Client, error) {
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap,
		Cmd:             exec.Command(path), // #nosec G204
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense("summarizer")
	if err != nil {
		client.Kill()
		return nil, nil, fmt.Errorf("failed to dispense summarizer: %w", err)
	}

	s, ok := raw.(summarize.Summarizer)
	if !ok {
		client.Kill()
		return nil, nil, fmt.Errorf("plugin does not implement summarizer")
	}
	return s, client, nil
}

// Serve runs the plugin side. A plugin binary's main calls this with its
// summarizer implementation and never returns.
func Serve(impl summarize.Summarizer) {
	hcplugin.Serve(&hcplugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hcplugin.Plugin{
			"summarizer": &SummarizerPlugin{Impl: impl},
		},
	})
}
