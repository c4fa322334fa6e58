package job

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/zdmr/zdmr/cmn"
	"github.com/zdmr/zdmr/naming"
	"github.com/zdmr/zdmr/planner"
	"github.com/zdmr/zdmr/store"
	"github.com/zdmr/zdmr/transport"
)

// probeResult holds everything the HEAD probe extracts, per spec.md §4.F
// step 4.
type probeResult struct {
	supportsRanges     *bool
	contentLength      *int64
	etag               *string
	lastModified       *string
	contentDisposition string
	contentType        string
}

// attempt runs the full eight-step sequence against one candidate URL.
// idx is this candidate's position in the failover list; idx > 0 marks a
// mirror attempt whose origin is recorded as mirror_used.
func (j *Job) attempt(ctx context.Context, rec *store.Download, rawURL string, idx int) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return cmn.WrapCoded(cmn.ErrInvalidURL, err, "invalid url %q", rawURL)
	}

	resolvedURL, err := j.deps.Cloud.Resolve(ctx, rawURL)
	if err != nil {
		return cmn.WrapCoded(cmn.ErrUnknown, err, "resolve cloud url")
	}
	resolvedParsed, err := url.Parse(resolvedURL)
	if err != nil {
		return cmn.WrapCoded(cmn.ErrInvalidURL, err, "invalid resolved url %q", resolvedURL)
	}

	// Step 1: effective proxy (forced overrides > rule engine).
	proxyURL, err := j.resolveProxy(rec, parsed.String())
	if err != nil {
		return err
	}
	client, err := j.deps.Policy.ClientFor(proxyURL)
	if err != nil {
		return cmn.WrapCoded(cmn.ErrUnknown, err, "acquire http client")
	}

	// Step 2: persist resolved_url / mirror_used.
	var mirrorUsed *string
	if idx > 0 {
		origin := parsed.Scheme + "://" + parsed.Host
		mirrorUsed = &origin
	}
	if err := j.deps.Store.UpdateResolvedAndMirror(j.downloadID, rawURL, mirrorUsed); err != nil {
		return err
	}

	// Step 3+4: HEAD probe with header injection.
	headers := map[string]string{}
	transport.ApplyHeaderRules(j.rules.HeaderRules, parsed.String(), headers)

	probe, err := j.headProbe(ctx, client, resolvedParsed, headers)
	if err != nil {
		return err
	}

	// Step 5: freshness revalidation against any previously recorded
	// witness from an earlier, now-stale attempt.
	if rec.ETag != nil && probe.etag != nil && *rec.ETag != *probe.etag {
		return cmn.NewCodedError(cmn.ErrRemoteChanged, "remote changed (etag mismatch)")
	}
	if rec.LastModified != nil && probe.lastModified != nil && *rec.LastModified != *probe.lastModified {
		return cmn.NewCodedError(cmn.ErrRemoteChanged, "remote changed (last-modified mismatch)")
	}

	// Step 6: first-attempt finalization.
	if rec.FinalFilename == nil || rec.TempPath == nil {
		desired := naming.FilenameFromHeadersAndURL(parsed.String(), probe.contentDisposition, probe.contentType)
		chosen, err := naming.ChooseNonCollidingFilename(rec.DestDir, desired)
		if err != nil {
			return cmn.WrapCoded(cmn.ErrUnknown, err, "choose filename")
		}
		tempPath := naming.TempPath(rec.DestDir, j.downloadID)

		if err := j.deps.Store.SetFinalization(j.downloadID, rawURL, tempPath, chosen,
			probe.contentLength, probe.etag, probe.lastModified, probe.supportsRanges, mirrorUsed); err != nil {
			return err
		}
		j.deps.Events.EmitDownloadsChanged()

		rec.FinalFilename = &chosen
		rec.TempPath = &tempPath
	}
	rec.ContentLength = probe.contentLength
	rec.SupportsRanges = probe.supportsRanges
	rec.ETag = probe.etag
	rec.LastModified = probe.lastModified

	j.stats.ContentLength.Store(contentLengthOrNeg1(probe.contentLength))

	// Step 7: open/create temp file, preallocate when length is known.
	if err := j.prepareTempFile(*rec.TempPath, probe.contentLength); err != nil {
		return err
	}

	// Step 8: multipart vs single.
	doMultipart := planner.ShouldPlanMultipart(contentLengthOrNeg1(probe.contentLength), probe.supportsRanges)

	if doMultipart {
		if err := j.runMultipart(ctx, client, resolvedParsed, headers, *rec.TempPath, *probe.contentLength); err != nil {
			if cmn.CodeOf(err) == cmn.ErrRangeUnsupported {
				j.deps.Log.Info("downgrading to single-stream", "download_id", j.downloadID, "reason", "range unsupported")
				if err := j.deps.Store.ResetForRetry(j.downloadID); err != nil {
					return err
				}
				_ = os.Remove(*rec.TempPath)
				if err := j.prepareTempFile(*rec.TempPath, probe.contentLength); err != nil {
					return err
				}
				return j.runSingle(ctx, client, resolvedParsed, headers, *rec.TempPath, probe.contentLength, false)
			}
			return err
		}
		return nil
	}

	return j.runSingle(ctx, client, resolvedParsed, headers, *rec.TempPath, probe.contentLength, boolOrFalse(probe.supportsRanges))
}

// resolveProxy implements the forced-proxy fallback chain ahead of the
// rule engine, per SPEC_FULL §9(b): a download with forced_proxy set uses
// its forced_proxy_url, or the global proxy URL when that is empty; any
// other download falls through to the rule-engine match.
func (j *Job) resolveProxy(rec *store.Download, rawURL string) (string, error) {
	if rec.ForcedProxy {
		if rec.ForcedProxyURL != nil && strings.TrimSpace(*rec.ForcedProxyURL) != "" {
			return *rec.ForcedProxyURL, nil
		}
		globalURL, err := j.deps.Store.GetSetting(store.KeyGlobalProxyURL)
		if err != nil {
			return "", err
		}
		return globalURL, nil
	}

	enabledRaw, err := j.deps.Store.GetSetting(store.KeyGlobalProxyEnabled)
	if err != nil {
		return "", err
	}
	globalEnabled := enabledRaw == "true"
	globalURL, err := j.deps.Store.GetSetting(store.KeyGlobalProxyURL)
	if err != nil {
		return "", err
	}
	return transport.EffectiveProxyURL(globalEnabled, globalURL, j.rules.ProxyRules, rawURL), nil
}

func (j *Job) headProbe(ctx context.Context, client *http.Client, u *url.URL, headers map[string]string) (*probeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return nil, cmn.WrapCoded(cmn.ErrInvalidURL, err, "build head request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	cmn.SetUserAgent(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, cmn.WrapCoded(classifyTransportError(err), err, "head probe failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, cmn.NewCodedError(classifyHTTPError(resp.StatusCode), "http "+strconv.Itoa(resp.StatusCode))
	}

	p := &probeResult{
		contentDisposition: resp.Header.Get("Content-Disposition"),
		contentType:        resp.Header.Get("Content-Type"),
	}
	if ar := strings.ToLower(resp.Header.Get("Accept-Ranges")); ar != "" {
		supports := strings.Contains(ar, "bytes")
		p.supportsRanges = &supports
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			p.contentLength = &n
		}
	}
	if et := resp.Header.Get("ETag"); et != "" {
		p.etag = &et
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		p.lastModified = &lm
	}
	return p, nil
}

func (j *Job) prepareTempFile(tempPath string, contentLength *int64) error {
	if contentLength != nil && *contentLength > 0 {
		if free, err := freeBytes(pathDir(tempPath)); err == nil && free < *contentLength {
			return cmn.NewCodedError(cmn.ErrDiskFull, "insufficient free space for download")
		}
	}
	logDiskIOSample(j.deps.Log, j.downloadID)

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return cmn.WrapCoded(cmn.ErrPermissionDenied, err, "open temp file")
	}
	defer f.Close()
	if contentLength != nil && *contentLength > 0 {
		if err := f.Truncate(*contentLength); err != nil {
			return cmn.WrapCoded(cmn.ErrDiskFull, err, "preallocate temp file")
		}
	}
	return nil
}

func pathDir(p string) string {
	i := strings.LastIndexByte(p, os.PathSeparator)
	if i < 0 {
		return "."
	}
	return p[:i]
}

func contentLengthOrNeg1(n *int64) int64 {
	if n == nil {
		return -1
	}
	return *n
}

func boolOrFalse(b *bool) bool { return b != nil && *b }
