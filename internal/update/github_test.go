package update

import (
	"archive/zip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useAPI(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	prev := apiBase
	apiBase = srv.URL
	t.Cleanup(func() {
		apiBase = prev
		srv.Close()
	})
	return srv
}

func TestCheckPublishedRelease(t *testing.T) {
	useAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/NowakAdmin/BalanzaAgent/releases/latest", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Release{TagName: "v1.4.0", HTMLURL: "https://example.test/r", Body: "notas"})
	}))

	res, err := Check(context.Background(), "NowakAdmin/BalanzaAgent", "1.3.9")
	require.NoError(t, err)
	assert.True(t, res.HasUpdate)
	assert.Equal(t, "1.4.0", res.Version)
	assert.Equal(t, "notas", res.Notes)

	res, err = Check(context.Background(), "NowakAdmin/BalanzaAgent", "v1.4.0")
	require.NoError(t, err)
	assert.False(t, res.HasUpdate)
}

func TestCheckFallsBackToTags(t *testing.T) {
	useAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/o/r/releases/latest":
			http.NotFound(w, r)
		case "/repos/o/r/tags":
			_, _ = w.Write([]byte(`[{"name": "v2.0.1"}, {"name": "v2.0.0"}]`))
		}
	}))

	res, err := Check(context.Background(), "o/r", "dev")
	require.NoError(t, err)
	assert.True(t, res.HasUpdate)
	assert.Equal(t, "2.0.1", res.Version)
	assert.Equal(t, "https://github.com/o/r/releases/tag/v2.0.1", res.URL)
}

func TestCheckRejectsEmptyRepo(t *testing.T) {
	_, err := Check(context.Background(), "  ", "1.0.0")
	assert.Error(t, err)
}

func TestIsNewerVersion(t *testing.T) {
	assert.True(t, isNewerVersion("1.10.0", "1.9.3"))
	assert.False(t, isNewerVersion("1.2", "1.2.0"))
	assert.False(t, isNewerVersion("", "1.0.0"))
	assert.True(t, isNewerVersion("0.0.1", "dev"))
}

func TestDownloadExtractsZippedExe(t *testing.T) {
	archive := buildZip(t, map[string]string{"dist/BalanzaAgent.exe": "MZbinary"})

	var srv *httptest.Server
	srv = useAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/o/r/releases/latest":
			_ = json.NewEncoder(w).Encode(Release{
				TagName: "v1.0.0",
				Assets:  []ReleaseAsset{{Name: "balanza-agent-win64.zip", BrowserDownloadURL: srv.URL + "/asset.zip"}},
			})
		case "/asset.zip":
			_, _ = w.Write(archive)
		}
	}))

	path, release, err := DownloadLatestWindowsAsset(context.Background(), "o/r")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(path) })

	assert.Equal(t, "v1.0.0", release.TagName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MZbinary", string(data))
}

func TestPickAssetPrefersNamedExe(t *testing.T) {
	asset, ok := pickAsset([]ReleaseAsset{
		{Name: "checksums.txt"},
		{Name: "other.exe"},
		{Name: "BalanzaAgent.exe"},
	})
	require.True(t, ok)
	assert.Equal(t, "BalanzaAgent.exe", asset.Name)

	_, ok = pickAsset([]ReleaseAsset{{Name: "source.tar.gz"}})
	assert.False(t, ok)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.zip")
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return data
}

func TestParseVersionIgnoresSuffixes(t *testing.T) {
	assert.Equal(t, semver{1, 4, 0}, parseVersion("v1.4.0-rc1"))
	assert.Equal(t, semver{2, 0, 0}, parseVersion("2"))
	assert.Equal(t, 0, parseVersion("1.4.0+build7").compare(parseVersion("1.4.0")))
}
