package update

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"slices"
	"strings"
	"time"
)

const assetName = "BalanzaAgent.exe"

// DownloadLatestWindowsAsset fetches the Windows binary of the newest
// release into a temp file. A release may ship the .exe directly or
// inside a .zip.
func DownloadLatestWindowsAsset(ctx context.Context, repo string) (string, Release, error) {
	release, err := LatestRelease(ctx, repo)
	if err != nil {
		return "", Release{}, err
	}

	asset, ok := pickAsset(release.Assets)
	if !ok {
		return "", Release{}, fmt.Errorf("el release %s no contiene un .exe", release.TagName)
	}

	if strings.HasSuffix(strings.ToLower(asset.Name), ".zip") {
		zipPath, err := downloadToTemp(ctx, asset.BrowserDownloadURL, "balanza-agent-release-*.zip")
		if err != nil {
			return "", Release{}, err
		}
		defer func() {
			_ = os.Remove(zipPath)
		}()

		exePath, err := extractExeFromZip(zipPath)
		if err != nil {
			return "", Release{}, err
		}
		return exePath, release, nil
	}

	exePath, err := downloadToTemp(ctx, asset.BrowserDownloadURL, "BalanzaAgent-*.exe")
	if err != nil {
		return "", Release{}, err
	}
	return exePath, release, nil
}

func pickAsset(assets []ReleaseAsset) (ReleaseAsset, bool) {
	for _, asset := range assets {
		if strings.EqualFold(asset.Name, assetName) {
			return asset, true
		}
	}
	for _, asset := range assets {
		if strings.HasSuffix(strings.ToLower(asset.Name), ".exe") {
			return asset, true
		}
	}
	for _, asset := range assets {
		name := strings.ToLower(asset.Name)
		if strings.HasSuffix(name, ".zip") && strings.Contains(name, "win") {
			return asset, true
		}
	}
	return ReleaseAsset{}, false
}

func downloadToTemp(ctx context.Context, url, pattern string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 60 * time.Second}
	response, err := client.Do(request)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode >= 300 {
		return "", fmt.Errorf("descarga: estado %d", response.StatusCode)
	}

	return writeTemp(pattern, response.Body)
}

// writeTemp copies r into a new temp file named after pattern. The file
// is removed when the copy fails.
func writeTemp(pattern string, r io.Reader) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}

	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}

func extractExeFromZip(zipPath string) (string, error) {
	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = archive.Close()
	}()

	idx := slices.IndexFunc(archive.File, func(f *zip.File) bool {
		return strings.EqualFold(path.Base(f.Name), assetName)
	})
	if idx < 0 {
		return "", fmt.Errorf("no hay %s en el archivo", assetName)
	}

	src, err := archive.File[idx].Open()
	if err != nil {
		return "", err
	}
	defer func() {
		_ = src.Close()
	}()

	return writeTemp("BalanzaAgent-*.exe", src)
}
