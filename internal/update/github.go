package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// apiBase is overridden in tests.
var apiBase = "https://api.github.com"

var errNoRelease = errors.New("sin release publicado")

type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

type Release struct {
	TagName string         `json:"tag_name"`
	HTMLURL string         `json:"html_url"`
	Body    string         `json:"body"`
	Assets  []ReleaseAsset `json:"assets"`
}

type Result struct {
	HasUpdate bool
	Version   string
	URL       string
	Notes     string
	Release   Release
}

// Check compares the newest release of repo (or its newest tag when
// nothing is published) with current.
func Check(ctx context.Context, repo string, current string) (Result, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return Result{}, fmt.Errorf("el repositorio de GitHub no puede estar vacío")
	}

	release, err := LatestRelease(ctx, repo)
	if errors.Is(err, errNoRelease) {
		tag, tagErr := latestTag(ctx, repo)
		if tagErr != nil {
			return Result{}, tagErr
		}
		release = Release{
			TagName: tag,
			HTMLURL: fmt.Sprintf("https://github.com/%s/releases/tag/%s", repo, tag),
		}
	} else if err != nil {
		return Result{}, err
	}

	latest := normalize(release.TagName)
	return Result{
		HasUpdate: isNewerVersion(latest, normalize(current)),
		Version:   latest,
		URL:       release.HTMLURL,
		Notes:     release.Body,
		Release:   release,
	}, nil
}

func LatestRelease(ctx context.Context, repo string) (Release, error) {
	var release Release
	status, err := getJSON(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", apiBase, repo), &release)
	if status == http.StatusNotFound {
		return Release{}, errNoRelease
	}
	if err != nil {
		return Release{}, err
	}
	return release, nil
}

func latestTag(ctx context.Context, repo string) (string, error) {
	var tags []struct {
		Name string `json:"name"`
	}
	if _, err := getJSON(ctx, fmt.Sprintf("%s/repos/%s/tags", apiBase, repo), &tags); err != nil {
		return "", err
	}

	if len(tags) == 0 {
		return "", fmt.Errorf("no hay versiones en el repositorio")
	}

	return tags[0].Name, nil
}

func getJSON(ctx context.Context, url string, out any) (int, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	request.Header.Set("Accept", "application/vnd.github+json")

	client := &http.Client{Timeout: 10 * time.Second}
	response, err := client.Do(request)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode >= 300 {
		return response.StatusCode, fmt.Errorf("la api de github devolvió estado %d", response.StatusCode)
	}

	return response.StatusCode, json.NewDecoder(response.Body).Decode(out)
}

func normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// semver holds major, minor and patch. Pre-release and build suffixes
// are ignored, so "1.4.0-rc1" equals "1.4.0".
type semver [3]int

func parseVersion(v string) semver {
	var out semver
	for i, part := range strings.SplitN(normalize(v), ".", 3) {
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				break
			}
			out[i] = out[i]*10 + int(ch-'0')
		}
	}
	return out
}

func (v semver) compare(other semver) int {
	for i := range v {
		switch {
		case v[i] > other[i]:
			return 1
		case v[i] < other[i]:
			return -1
		}
	}
	return 0
}

// isNewerVersion reports whether latest is strictly newer than current.
// A development build parses as 0.0.0, so any release is newer.
func isNewerVersion(latest, current string) bool {
	if latest == "" || current == "" {
		return false
	}
	return parseVersion(latest).compare(parseVersion(current)) > 0
}
