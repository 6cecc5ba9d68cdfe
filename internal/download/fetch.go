package download

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

const report_fetch = "fetch"

// Fetcher downloads a link directly over HTTP with the browser's cookies, used
// when clicking the link in the browser produced no file.
type Fetcher struct {
	tel  telemetry.API
	http *resty.Client
}

func NewFetcher(tel telemetry.API, userAgent string) Fetcher {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("download", tel)

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if userAgent != "" {
		client.SetHeader("user-agent", userAgent)
	}
	client.SetTimeout(60 * time.Second)
	telemetry.InstrumentResty(client, tel)

	return Fetcher{tel: tel, http: client}
}

const defaultFilename = "download"

// safeBase reduces name to a plain file name, "" when nothing usable is left.
func safeBase(name string) string {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
	switch base {
	case ".", "..", string(filepath.Separator), "":
		return ""
	}
	return base
}

// filename picks the Content-Disposition name, else the last path segment of the
// link.
func filename(header http.Header, link string) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		_, params, err := mime.ParseMediaType(cd)
		if err == nil {
			if base := safeBase(params["filename"]); base != "" {
				return base
			}
		}
	}
	u, err := url.Parse(link)
	if err == nil {
		if base := safeBase(path.Base(u.Path)); base != "" {
			return base
		}
	}
	return defaultFilename
}

// Fetch saves link into dir and returns the written path.
func (f Fetcher) Fetch(ctx context.Context, link, dir string, cookies []*http.Cookie) (string, error) {
	res, err := f.http.R().
		SetContext(ctx).
		SetCookies(cookies).
		Get(link)
	if err != nil {
		return "", err
	}
	if res.IsError() {
		return "", fmt.Errorf("fetch %s: %s", link, res.Status())
	}

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, filename(res.Header(), link))
	err = os.WriteFile(out, res.Body(), 0644)
	if err != nil {
		return "", err
	}
	f.tel.ReportDebug(report_fetch, link, out, len(res.Body()))
	return out, nil
}
