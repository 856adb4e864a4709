package download_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgrab/pgrab/pkg/download"
)

const mockURL = "http://files.example/data.bin"

func mockClient() (*http.Client, *httpmock.MockTransport) {
	transport := httpmock.NewMockTransport()
	return &http.Client{Transport: transport}, transport
}

func TestFetchWholeUsesPrimaryStream(t *testing.T) {
	body := strings.Repeat("pgrab", 1000)
	primary, primaryMock := mockClient()
	primaryMock.RegisterResponder(http.MethodGet, mockURL, httpmock.NewStringResponder(http.StatusOK, body).SetContentLength())
	secondary, secondaryMock := mockClient()

	dest := filepath.Join(t.TempDir(), "data.bin")
	fetcher := download.NewSingleStreamFetcher(testOptions(primary, secondary))
	outcome := fetcher.FetchWhole(context.Background(), mockURL, dest)

	require.True(t, outcome.Succeeded, "%v", outcome.Err)
	assert.Equal(t, download.PathStream, outcome.Path)
	assert.Equal(t, int64(len(body)), outcome.BytesWritten)
	assertFileContent(t, dest, []byte(body))
	assertNoLeftovers(t, filepath.Dir(dest))
	assert.Equal(t, 1, primaryMock.GetTotalCallCount())
	assert.Equal(t, 0, secondaryMock.GetTotalCallCount())
}

func TestFetchWholeFallsBackToSecondary(t *testing.T) {
	primary, primaryMock := mockClient()
	primaryMock.RegisterResponder(http.MethodGet, mockURL, httpmock.NewErrorResponder(errors.New("connection reset by peer")))
	secondary, secondaryMock := mockClient()
	secondaryMock.RegisterResponder(http.MethodGet, mockURL, httpmock.NewStringResponder(http.StatusOK, "secondary body").SetContentLength())

	dest := filepath.Join(t.TempDir(), "data.bin")
	outcome := download.NewSingleStreamFetcher(testOptions(primary, secondary)).FetchWhole(context.Background(), mockURL, dest)

	require.True(t, outcome.Succeeded, "%v", outcome.Err)
	assert.Equal(t, download.PathSecondary, outcome.Path)
	assertFileContent(t, dest, []byte("secondary body"))
	assertNoLeftovers(t, filepath.Dir(dest))
	assert.Equal(t, 3, primaryMock.GetCallCountInfo()["GET "+mockURL])
	assert.Equal(t, 1, secondaryMock.GetCallCountInfo()["GET "+mockURL])
}

func TestFetchWholeFailsWhenBothMethodsFail(t *testing.T) {
	primary, primaryMock := mockClient()
	primaryMock.RegisterResponder(http.MethodGet, mockURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	secondary, secondaryMock := mockClient()
	secondaryMock.RegisterResponder(http.MethodGet, mockURL, httpmock.NewErrorResponder(errors.New("no route to host")))

	dir := t.TempDir()
	dest := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0644))

	outcome := download.NewSingleStreamFetcher(testOptions(primary, secondary)).FetchWhole(context.Background(), mockURL, dest)

	require.False(t, outcome.Succeeded)
	require.Error(t, outcome.Err)
	assert.Equal(t, 3, primaryMock.GetTotalCallCount())
	assert.Equal(t, 3, secondaryMock.GetTotalCallCount())
	assert.True(t, download.IsKind(outcome.Err, download.KindRetryExhausted))
	assert.True(t, download.IsKind(outcome.Err, download.KindHTTPStatus))
	assert.True(t, download.IsKind(outcome.Err, download.KindNetwork))
	assert.Equal(t, http.StatusServiceUnavailable, download.StatusCode(outcome.Err))

	// a failed download never clobbers the destination
	assertFileContent(t, dest, []byte("previous"))
	assertNoLeftovers(t, dir)
}

func TestFetchWholeWithoutSecondary(t *testing.T) {
	primary, primaryMock := mockClient()
	primaryMock.RegisterResponder(http.MethodGet, mockURL, httpmock.NewStringResponder(http.StatusNotFound, ""))

	dest := filepath.Join(t.TempDir(), "data.bin")
	outcome := download.NewSingleStreamFetcher(testOptions(primary, nil)).FetchWhole(context.Background(), mockURL, dest)

	require.False(t, outcome.Succeeded)
	assert.Equal(t, download.KindRetryExhausted, outcome.FailureKind())
	assert.Equal(t, 3, primaryMock.GetTotalCallCount())
	assert.NoFileExists(t, dest)
}

func TestFetchWholeRetriesShortBody(t *testing.T) {
	calls := 0
	primary, primaryMock := mockClient()
	primaryMock.RegisterResponder(http.MethodGet, mockURL, func(req *http.Request) (*http.Response, error) {
		calls++
		resp := httpmock.NewStringResponse(http.StatusOK, "complete")
		if calls == 1 {
			resp = httpmock.NewStringResponse(http.StatusOK, "comp")
		}
		resp.ContentLength = int64(len("complete"))
		return resp, nil
	})

	dest := filepath.Join(t.TempDir(), "data.bin")
	outcome := download.NewSingleStreamFetcher(testOptions(primary, nil)).FetchWhole(context.Background(), mockURL, dest)

	require.True(t, outcome.Succeeded, "%v", outcome.Err)
	assert.Equal(t, 2, calls)
	assertFileContent(t, dest, []byte("complete"))
}

func TestFetchWholeCanceledSkipsSecondary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary, primaryMock := mockClient()
	primaryMock.RegisterResponder(http.MethodGet, mockURL, func(req *http.Request) (*http.Response, error) {
		cancel()
		return nil, req.Context().Err()
	})
	secondary, secondaryMock := mockClient()
	secondaryMock.RegisterResponder(http.MethodGet, mockURL, httpmock.NewStringResponder(http.StatusOK, "x").SetContentLength())

	dest := filepath.Join(t.TempDir(), "data.bin")
	outcome := download.NewSingleStreamFetcher(testOptions(primary, secondary)).FetchWhole(ctx, mockURL, dest)

	require.False(t, outcome.Succeeded)
	assert.Equal(t, download.KindCanceled, outcome.FailureKind())
	assert.Equal(t, 0, secondaryMock.GetTotalCallCount())
}
