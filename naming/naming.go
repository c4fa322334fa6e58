// Package naming derives a destination filename from response headers and
// the request URL (§4.D precedence rules), then finds a collision-free
// name inside the destination directory.
package naming

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/zdmr/zdmr/cmn"
)

var (
	filenameStarRe = regexp.MustCompile(`(?i)filename\*\s*=\s*`)
	filenameRe     = regexp.MustCompile(`(?i)filename\s*=\s*`)
	sanitizeRe     = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)
)

// FilenameFromHeadersAndURL implements §4.D's three-tier precedence:
// Content-Disposition filename*/filename, then the URL's last path
// segment, then a generic "download" with an extension guessed from
// content-type.
func FilenameFromHeadersAndURL(rawURL, contentDisposition, contentType string) string {
	if contentDisposition != "" {
		if name := parseContentDispositionFilename(contentDisposition); name != "" {
			if s := sanitizeComponent(decodeFilenameLike(name)); s != "" {
				return s
			}
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		segs := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
		if last := segs[len(segs)-1]; last != "" {
			if s := sanitizeComponent(decodeFilenameLike(last)); s != "" && s != "." {
				return s
			}
		}
	}

	base := "download"
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(stripParams(contentType)); err == nil && len(exts) > 0 {
			base += exts[0]
		}
	}
	return base
}

func stripParams(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		return strings.TrimSpace(contentType[:i])
	}
	return contentType
}

// parseContentDispositionFilename extracts filename*= (RFC 5987) in
// preference to filename=, taking care not to let a quoted filename*=
// value swallow a trailing "; filename=..." parameter.
func parseContentDispositionFilename(cd string) string {
	cd = strings.TrimSpace(cd)

	if loc := filenameStarRe.FindStringIndex(cd); loc != nil {
		rest := strings.TrimSpace(cd[loc[1]:])
		rest = takeParamValue(rest)
		if idx := strings.Index(rest, "''"); idx >= 0 {
			encoded := strings.Trim(strings.TrimSpace(rest[idx+2:]), `"`)
			if decoded, err := url.QueryUnescape(encoded); err == nil {
				return decoded
			}
		}
		if v := strings.Trim(rest, `"`); v != "" {
			return v
		}
	}

	if loc := filenameRe.FindStringIndex(cd); loc != nil {
		rest := cd[loc[1]:]
		if semi := strings.Index(rest, ";"); semi >= 0 {
			rest = rest[:semi]
		}
		if v := strings.Trim(strings.TrimSpace(rest), `"`); v != "" {
			return decodeFilenameLike(v)
		}
	}

	return ""
}

// takeParamValue returns s up to (but excluding) the next unquoted ';'.
func takeParamValue(s string) string {
	inQuotes := false
	escape := false
	for i, ch := range s {
		if escape {
			escape = false
			continue
		}
		switch ch {
		case '\\':
			if inQuotes {
				escape = true
			}
		case '"':
			inQuotes = !inQuotes
		case ';':
			if !inQuotes {
				return strings.TrimSpace(s[:i])
			}
		}
	}
	return strings.TrimSpace(s)
}

func decodeFilenameLike(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil {
		return decoded
	}
	return strings.ReplaceAll(s, "%20", " ")
}

// sanitizeComponent strips path separators and control characters so the
// result is safe to use as a single path component.
func sanitizeComponent(s string) string {
	s = sanitizeRe.ReplaceAllString(s, "_")
	s = strings.TrimSpace(s)
	return s
}

// ChooseNonCollidingFilename returns desired unchanged if it doesn't yet
// exist in destDir, otherwise appends " (n)" before the extension,
// starting at n=1, up to cmn.MaxFilenameSuffix. A single godirwalk pass
// over destDir builds the "which numbered variants already exist" set so
// this never issues more than one directory read regardless of how many
// variants collide.
func ChooseNonCollidingFilename(destDir, desired string) (string, error) {
	if desired == "" {
		desired = "download"
	}

	existing, err := existingNames(destDir)
	if err != nil {
		return "", err
	}
	if !existing[desired] {
		return desired, nil
	}

	ext := filepath.Ext(desired)
	stem := strings.TrimSuffix(desired, ext)
	for n := 1; n <= cmn.MaxFilenameSuffix; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if !existing[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("naming: too many filename collisions for %q", desired)
}

func existingNames(destDir string) (map[string]bool, error) {
	names := make(map[string]bool)
	entries, err := godirwalk.ReadDirnames(destDir, nil)
	if err != nil {
		if os.IsNotExist(err) {
			return names, nil
		}
		return nil, err
	}
	for _, n := range entries {
		names[n] = true
	}
	return names, nil
}

// TempPath returns the hidden, id-scoped, resume-safe temp file path for
// downloadID inside destDir.
func TempPath(destDir, downloadID string) string {
	return filepath.Join(destDir, fmt.Sprintf(".zdmr-%s.part", downloadID))
}
