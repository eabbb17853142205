package eastmoney

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangqi/tailscan/internal/domain"
	"github.com/wangqi/tailscan/internal/proxy"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return NewClient(Config{
		ListBaseURL: ts.URL,
		HistBaseURL: ts.URL,
		PageSize:    2,
		Timeout:     2 * time.Second,
	}, zerolog.Nop())
}

func TestFetchSectorsPaginates(t *testing.T) {
	rows := []string{
		`{"f12":"BK0001","f14":"半导体","f3":3.2,"f62":1500000000,"f66":2000000000,"f124":1756000000}`,
		`{"f12":"BK0002","f14":"白酒","f3":-1.1,"f62":"-","f66":500000000}`,
		`{"f12":"BK0003","f14":"券商","f3":0.4}`,
	}

	var pages []int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, listPath, r.URL.Path)
		page, _ := strconv.Atoi(r.URL.Query().Get("pn"))
		pages = append(pages, page)

		start := (page - 1) * 2
		end := start + 2
		if end > len(rows) {
			end = len(rows)
		}
		body := `{"data":{"total":3,"rows":[`
		for i := start; i < end; i++ {
			if i > start {
				body += ","
			}
			body += rows[i]
		}
		body += `]}}`
		fmt.Fprint(w, body)
	}))

	sectors, err := client.FetchSectors(context.Background(), proxy.Credential{})
	require.NoError(t, err)

	require.Len(t, sectors, 3)
	assert.Equal(t, []int{1, 2}, pages)
	assert.Equal(t, "BK0001", sectors[0].ID)
	assert.InDelta(t, 3.2, sectors[0].ChangePct, 1e-9)
	// "-" capital flow decodes to the neutral zero.
	assert.InDelta(t, 0.0, sectors[1].CapitalFlow, 1e-9)
}

func TestFetchSectorsStripsJSONPWrapper(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `json({"data":{"total":1,"rows":[{"f12":"BK0001","f14":"半导体"}]}});`)
	}))

	sectors, err := client.FetchSectors(context.Background(), proxy.Credential{})
	require.NoError(t, err)
	require.Len(t, sectors, 1)
	assert.Equal(t, "BK0001", sectors[0].ID)
}

func TestFetchSectorsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"total":0,"rows":[]}}`)
	}))

	_, err := client.FetchSectors(context.Background(), proxy.Credential{})
	assert.True(t, IsEmpty(err))
}

func TestFetchSectorsMalformedPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>blocked</html>`)
	}))

	_, err := client.FetchSectors(context.Background(), proxy.Credential{})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.False(t, IsEmpty(err))
}

func TestFetchSectorsServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.FetchSectors(context.Background(), proxy.Credential{})
	assert.True(t, IsTransient(err))
}

func TestFetchMembers(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("fs"), "b:BK0001")
		fmt.Fprint(w, `{"data":{"total":2,"rows":[
			{"f12":"600519","f14":"贵州茅台","f3":2.1,"f13":1},
			{"f12":"000858","f14":"五粮液","f3":1.8,"f13":0}
		]}}`)
	}))

	members, err := client.FetchMembers(context.Background(), "BK0001", proxy.Credential{})
	require.NoError(t, err)

	require.Len(t, members, 2)
	assert.Equal(t, "BK0001", members[0].SectorID)
	assert.Equal(t, "1.600519", members[0].SecID())
	assert.Equal(t, "0.000858", members[1].SecID())
}

func TestFetchDaily(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, klinePath, r.URL.Path)
		assert.Equal(t, "1.600519", r.URL.Query().Get("secid"))
		fmt.Fprint(w, `{"data":{"code":"600519","klines":[
			"2026-08-21,1500.0,1520.0,1530.0,1495.0,25000,3.8e9,2.3,1.4,21.0,0.2",
			"2026-08-24,1520.0,1540.0,1545.0,1515.0,28000,4.2e9,2.0,1.3,20.0,0.22"
		]}}`)
	}))

	member := domain.Member{Code: "600519"}
	bars, err := client.FetchDaily(context.Background(), member, proxy.Credential{})
	require.NoError(t, err)

	require.Len(t, bars, 2)
	assert.Equal(t, "600519", bars[0].Code)
	assert.Equal(t, 2026, bars[0].Date.Year())
	assert.InDelta(t, 1520.0, bars[0].Close, 1e-9)
	assert.InDelta(t, 1530.0, bars[0].High, 1e-9)
	assert.InDelta(t, 0.22, bars[1].TurnoverRate, 1e-9)
}

func TestFetchDailyBadRow(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"code":"600519","klines":["2026-08-21,not,enough,fields"]}}`)
	}))

	_, err := client.FetchDaily(context.Background(), domain.Member{Code: "600519"}, proxy.Credential{})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestFetchIntraday(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, trendsPath, r.URL.Path)
		fmt.Fprint(w, `{"data":{"code":"600519","trends":[
			"2026-08-24 14:35,1538.0,1539.0,1539.5,1537.5,120,184680000,1536.8",
			"2026-08-24 14:36,1539.0,1540.0,1540.0,1538.5,95,146300000,1536.9"
		]}}`)
	}))

	points, err := client.FetchIntraday(context.Background(), domain.Member{Code: "600519"}, proxy.Credential{})
	require.NoError(t, err)

	require.Len(t, points, 2)
	assert.InDelta(t, 1539.0, points[0].Price, 1e-9)
	assert.InDelta(t, 1536.8, points[0].AvgPrice, 1e-9)
	assert.Equal(t, 14, points[0].Timestamp.Hour())
	assert.Equal(t, 35, points[0].Timestamp.Minute())
}

func TestFetchIntradayEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"code":"600519","trends":[]}}`)
	}))

	_, err := client.FetchIntraday(context.Background(), domain.Member{Code: "600519"}, proxy.Credential{})
	assert.True(t, IsEmpty(err))
}
