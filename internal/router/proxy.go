package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/Klavis-AI/playwright-mcp/internal/jsonrpc"
)

// newWorkerProxy builds a reverse proxy for one worker's loopback port.
//
// FlushInterval -1 flushes every write immediately, which the SSE transport
// depends on; bodies are streamed, never buffered. The Rewrite hook strips
// hop-by-hop headers and the inbound Host. A client disconnect cancels the
// outbound request through the request context.
func newWorkerProxy(port int, logger *slog.Logger) *httputil.ReverseProxy {
	target := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("127.0.0.1:%d", port),
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				// Client went away mid-proxy; nothing to answer.
				return
			}
			logger.Error("Proxy to worker failed",
				"target", target.Host,
				"path", r.URL.Path,
				"error", err,
			)
			jsonrpc.WriteError(w, http.StatusInternalServerError, jsonrpc.CodeInternalError, "worker unavailable")
		},
	}
}
