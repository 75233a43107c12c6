package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gitcell/pkg/object"
	"github.com/odvcencio/gitcell/pkg/pack"
	"github.com/odvcencio/gitcell/pkg/store"
)

const seedCommitHash = object.Hash("38598c4d29d51dd9029b8c310f3656f8b197c1a8")

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	ts := httptest.NewServer(New(store.NewRegistry(""), log).Router())
	t.Cleanup(ts.Close)
	return ts
}

func appendPkt(body []byte, line string) []byte {
	return append(body, []byte(fmt.Sprintf("%04x%s", len(line)+4, line))...)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestInfoRefsAdvertisement(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/demo/alice/info/refs?service=git-upload-pack")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-git-upload-pack-advertisement", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("001e# service=git-upload-pack\n0000")),
		"advertisement prelude missing: %q", body[:40])
	assert.Contains(t, string(body), string(seedCommitHash)+" HEAD")
	assert.Contains(t, string(body), "refs/heads/main")
}

func TestInfoRefsRejectsUnknownService(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/demo/alice/info/refs?service=git-evil-pack")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/demo/alice/info/refs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvalidRepositoryName(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/.hidden/alice/info/refs?service=git-upload-pack")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/demo/alice/info/refs?service=git-upload-pack", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/demo/alice/git-upload-pack")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadPackBadRequestBody(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/demo/alice/git-upload-pack",
		"application/x-git-upload-pack-request",
		bytes.NewReader([]byte("garbage that is not pkt-line")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// Push a commit over HTTP, then fetch it back through the same server.
func TestPushThenFetch(t *testing.T) {
	ts := newTestServer(t)

	sig := object.Signature{Name: "Ada", Email: "ada@example.com", When: 1700000000, TZ: "+0000"}
	blobBody := []byte("hello world\n")
	blobHash := object.HashObject(object.TypeBlob, blobBody)
	treeBody, err := object.MarshalTree([]object.TreeEntry{
		{Mode: object.TreeModeFile, Name: "hello.txt", Hash: blobHash},
	})
	require.NoError(t, err)
	treeHash := object.HashObject(object.TypeTree, treeBody)
	commitBody := object.MarshalCommit(&object.CommitObj{
		TreeHash:  treeHash,
		Parents:   []object.Hash{seedCommitHash},
		Author:    sig,
		Committer: sig,
		Message:   "add hello.txt\n",
	})
	commitHash := object.HashObject(object.TypeCommit, commitBody)

	var packBuf bytes.Buffer
	pw, err := pack.NewWriter(&packBuf, 3)
	require.NoError(t, err)
	require.NoError(t, pw.WriteObject(object.TypeBlob, blobBody))
	require.NoError(t, pw.WriteObject(object.TypeTree, treeBody))
	require.NoError(t, pw.WriteObject(object.TypeCommit, commitBody))
	_, err = pw.Finish()
	require.NoError(t, err)

	var push []byte
	push = appendPkt(push, string(seedCommitHash)+" "+string(commitHash)+" refs/heads/main\x00report-status\n")
	push = append(push, []byte("0000")...)
	push = append(push, packBuf.Bytes()...)

	resp, err := http.Post(ts.URL+"/demo/alice/git-receive-pack",
		"application/x-git-receive-pack-request", bytes.NewReader(push))
	require.NoError(t, err)
	report, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-git-receive-pack-result", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(report), "unpack ok")
	assert.Contains(t, string(report), "ok refs/heads/main")

	// The advertisement now points at the pushed commit.
	resp, err = http.Get(ts.URL + "/demo/alice/info/refs?service=git-upload-pack")
	require.NoError(t, err)
	adv, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(adv), string(commitHash)+" HEAD")

	// Full clone: NAK plus a pack holding the pushed history.
	var fetch []byte
	fetch = appendPkt(fetch, "want "+string(commitHash)+"\n")
	fetch = append(fetch, []byte("0000")...)
	fetch = appendPkt(fetch, "done\n")

	resp, err = http.Post(ts.URL+"/demo/alice/git-upload-pack",
		"application/x-git-upload-pack-request", bytes.NewReader(fetch))
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-git-upload-pack-result", resp.Header.Get("Content-Type"))

	nak := appendPkt(nil, "NAK\n")
	require.True(t, bytes.HasPrefix(out, nak), "response does not start with NAK: %q", out[:16])

	pf, err := pack.Read(out[len(nak):])
	require.NoError(t, err)
	got := make(map[object.Hash]bool, len(pf.Objects))
	for _, obj := range pf.Objects {
		got[obj.Hash] = true
	}
	assert.True(t, got[commitHash], "pack missing pushed commit")
	assert.True(t, got[treeHash], "pack missing pushed tree")
	assert.True(t, got[blobHash], "pack missing pushed blob")
}

// Repositories are scoped per repo+user pair.
func TestRepositoriesIsolated(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/demo/alice", "/demo/bob"} {
		resp, err := http.Get(ts.URL + path + "/info/refs?service=git-upload-pack")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Contains(t, string(body), string(seedCommitHash)+" HEAD",
			"fresh repo %s not seeded", path)
	}
}
