package documents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGateways are tried in order when no override is configured.
var DefaultGateways = []string{
	"https://ipfs.io/ipfs/{cid}",
	"https://gateway.pinata.cloud/ipfs/{cid}",
	"https://dweb.link/ipfs/{cid}",
	"https://{cid}.ipfs.dweb.link",
}

const maxDocumentBytes = 32 << 20

// Gateway is one retrieval strategy: a URL template with a {cid} placeholder.
type Gateway struct {
	Template string
}

// URL renders the gateway address for a content identifier.
func (g Gateway) URL(address string) string {
	return strings.ReplaceAll(g.Template, "{cid}", address)
}

// Name is the gateway host, used as a metrics and log label.
func (g Gateway) Name() string {
	u, err := url.Parse(strings.ReplaceAll(g.Template, "{cid}.", ""))
	if err != nil || u.Host == "" {
		return g.Template
	}
	return u.Host
}

func parseGateways(templates []string) []Gateway {
	if len(templates) == 0 {
		templates = DefaultGateways
	}
	out := make([]Gateway, 0, len(templates))
	for _, tpl := range templates {
		tpl = strings.TrimSpace(tpl)
		if tpl == "" {
			continue
		}
		if !strings.Contains(tpl, "{cid}") {
			tpl = strings.TrimRight(tpl, "/") + "/{cid}"
		}
		out = append(out, Gateway{Template: tpl})
	}
	return out
}

// Attempt records the outcome of one gateway fetch.
type Attempt struct {
	Gateway string `json:"gateway"`
	URL     string `json:"url"`
	Error   string `json:"error,omitempty"`
}

// Retrieval is the result of walking the gateway list. Data is nil when no
// gateway produced an acceptable document; URL then points at the first
// gateway so callers can redirect.
type Retrieval struct {
	Data     []byte    `json:"-"`
	URL      string    `json:"url"`
	Gateway  string    `json:"gateway,omitempty"`
	Attempts []Attempt `json:"attempts"`
}

// Found reports whether a document was retrieved.
func (r Retrieval) Found() bool {
	return len(r.Data) > 0
}

type fetchFunc func(ctx context.Context, gateway Gateway, address string) ([]byte, error)

// firstAccepted is the retry combinator: it runs fetch against each gateway in
// order and returns the first response the acceptor approves.
func firstAccepted(ctx context.Context, gateways []Gateway, address string, fetch fetchFunc, accept func([]byte) error, observe func(gateway, result string)) Retrieval {
	out := Retrieval{Attempts: make([]Attempt, 0, len(gateways))}
	if len(gateways) > 0 {
		out.URL = gateways[0].URL(address)
	}
	for _, gw := range gateways {
		if ctx.Err() != nil {
			break
		}
		attempt := Attempt{Gateway: gw.Name(), URL: gw.URL(address)}
		data, err := fetch(ctx, gw, address)
		if err == nil {
			err = accept(data)
		}
		if err != nil {
			attempt.Error = err.Error()
			out.Attempts = append(out.Attempts, attempt)
			observe(gw.Name(), "rejected")
			continue
		}
		out.Attempts = append(out.Attempts, attempt)
		observe(gw.Name(), "accepted")
		out.Data = data
		out.URL = attempt.URL
		out.Gateway = attempt.Gateway
		return out
	}
	return out
}

func httpFetcher(client *http.Client, timeout time.Duration) fetchFunc {
	return func(ctx context.Context, gw Gateway, address string) ([]byte, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, gw.URL(address), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/pdf")
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	}
}
