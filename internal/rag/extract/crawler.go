package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

const (
	DefaultCrawlDepth = 5
	DefaultCrawlLimit = 200
	maxPageBytes      = 5 << 20
)

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// CrawlOptions bounds a recursive crawl.
type CrawlOptions struct {
	MaxDepth int // pages at depth >= MaxDepth are not fetched; the root is depth 0
	MaxPages int
	Client   *http.Client
}

func (o CrawlOptions) withDefaults() CrawlOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultCrawlDepth
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultCrawlLimit
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return o
}

type crawlItem struct {
	url   *url.URL
	depth int
}

// Crawl fetches rootURL and the pages it links to breadth-first, staying under
// the root URL, and splits each page's visible text into fragments.
func (l *Loader) Crawl(ctx context.Context, rootURL string, opts CrawlOptions) ([]model.Fragment, error) {
	opts = opts.withDefaults()
	root, err := url.Parse(rootURL)
	if err != nil || root.Scheme == "" || root.Host == "" {
		return nil, fmt.Errorf("invalid root url %q", rootURL)
	}
	root.Fragment = ""

	var (
		frags   []model.Fragment
		visited = map[string]struct{}{root.String(): {}}
		queue   = []crawlItem{{url: root}}
		fetched int
	)
	for len(queue) > 0 && fetched < opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return frags, err
		}
		item := queue[0]
		queue = queue[1:]

		text, links, err := fetchPage(ctx, opts.Client, item.url)
		fetched++
		if err != nil {
			logx.Warn().Err(err).Str("url", item.url.String()).Msg("Skipping page")
			continue
		}
		frags = append(frags, l.fragments(text, item.url.String(), nil)...)

		if item.depth+1 >= opts.MaxDepth {
			continue
		}
		for _, href := range links {
			next, ok := resolveLink(root, item.url, href)
			if !ok {
				continue
			}
			key := next.String()
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
			queue = append(queue, crawlItem{url: next, depth: item.depth + 1})
		}
	}

	logx.Info().Str("root_url", rootURL).Int("pages", fetched).Int("chunks", len(frags)).Msg("Extracted web pages")
	return frags, nil
}

// resolveLink resolves href against base and keeps it only when it stays under root.
func resolveLink(root, base *url.URL, href string) (*url.URL, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, false
	}
	u := base.ResolveReference(ref)
	u.Fragment = ""
	if u.Scheme != root.Scheme || u.Host != root.Host {
		return nil, false
	}
	if !strings.HasPrefix(u.Path, root.Path) {
		return nil, false
	}
	return u, true
}

func fetchPage(ctx context.Context, client *http.Client, u *url.URL) (string, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return "", nil, fmt.Errorf("unsupported content type %q", ct)
	}
	text, links := extractHTML(io.LimitReader(resp.Body, maxPageBytes))
	return text, links, nil
}

// extractHTML returns the visible text and the href of every anchor.
func extractHTML(r io.Reader) (string, []string) {
	var (
		sb    strings.Builder
		links []string
		skip  int
	)
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			text := blankLines.ReplaceAllString(sb.String(), "\n\n")
			return strings.TrimSpace(text), links
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			switch tag {
			case "script", "style", "noscript":
				skip++
			case "a":
				for hasAttr {
					var key, val []byte
					key, val, hasAttr = z.TagAttr()
					if string(key) == "href" {
						links = append(links, string(val))
					}
				}
			case "br", "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
				sb.WriteString("\n")
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}
