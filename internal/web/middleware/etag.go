package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// WeakETag derives a weak validator from a response body
func WeakETag(body []byte) string {
	return fmt.Sprintf(`W/"%016x"`, xxhash.Sum64(body))
}

// ParseIfNoneMatch splits an If-None-Match header into its entity tags
func ParseIfNoneMatch(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	if header == "*" {
		return []string{"*"}
	}

	var tags []string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		weak := strings.HasPrefix(part, "W/")
		raw := strings.TrimPrefix(part, "W/")
		if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
			continue
		}
		if weak {
			raw = "W/" + raw
		}
		tags = append(tags, raw)
	}
	return tags
}

// MatchesETag applies the weak comparison used for If-None-Match
func MatchesETag(etag string, candidates []string) bool {
	bare := strings.TrimPrefix(etag, "W/")
	for _, c := range candidates {
		if c == "*" || strings.TrimPrefix(c, "W/") == bare {
			return true
		}
	}
	return false
}

type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// ConditionalGET buffers successful GET responses, tags them with a weak
// ETag and answers 304 when the client already holds that version.
func ConditionalGET() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			buf := &bufferedWriter{header: w.Header()}
			next.ServeHTTP(buf, r)
			if buf.status == 0 {
				buf.status = http.StatusOK
			}

			if buf.status != http.StatusOK {
				w.WriteHeader(buf.status)
				_, _ = w.Write(buf.body.Bytes())
				return
			}

			etag := WeakETag(buf.body.Bytes())
			w.Header().Set("ETag", etag)
			if MatchesETag(etag, ParseIfNoneMatch(r.Header.Get("If-None-Match"))) {
				w.Header().Del("Content-Type")
				w.WriteHeader(http.StatusNotModified)
				return
			}

			w.Header().Set("Content-Length", strconv.Itoa(buf.body.Len()))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(buf.body.Bytes())
		})
	}
}
