package heatpump

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyhub/pkg/common"
	"github.com/raterudder/energyhub/pkg/log"
	"github.com/raterudder/energyhub/pkg/types"
)

// Ecoforest downloads the daily historic files an Ecoforest heat pump serves
// on the local network.
type Ecoforest struct {
	client  *http.Client
	baseURL string
	serial  string
	authKey string
	loc     *time.Location

	newBackOff func() backoff.BackOff
}

// NewEcoforest returns a client for the heat pump at baseURL.
func NewEcoforest(client *http.Client, baseURL, serial, authKey string, loc *time.Location) *Ecoforest {
	if client == nil {
		client = common.HTTPClient(30 * time.Second)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Ecoforest{
		client:  client,
		baseURL: baseURL,
		serial:  serial,
		authKey: authKey,
		loc:     loc,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		},
	}
}

// Configured registers the heat pump flags. The returned Ecoforest is only
// usable when Enabled reports true.
func Configured() *Ecoforest {
	e := NewEcoforest(nil, "", "", "", nil)
	baseURL := lflag.String("heatpump-url", "", "Base URL of the Ecoforest heat pump, e.g. https://192.168.1.147:8000")
	serial := lflag.String("heatpump-serial", "", "Ecoforest heat pump serial number")
	authKey := lflag.String("heatpump-auth-key", "", "Ecoforest basic auth key")
	insecure := lflag.Bool("heatpump-insecure", true, "Skip TLS verification, the heat pump uses a self-signed certificate")
	timezone := lflag.String("heatpump-timezone", "Europe/London", "Timezone of the heat pump clock")

	lflag.Do(func() {
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid heatpump-timezone %q: %v", *timezone, err))
		}
		e.baseURL = *baseURL
		e.serial = *serial
		e.authKey = *authKey
		e.loc = loc
		if *insecure {
			e.client = &http.Client{
				Timeout: 30 * time.Second,
				Transport: common.Transport(&http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				}),
			}
		}
	})
	return e
}

// Enabled reports whether a heat pump is configured.
func (e *Ecoforest) Enabled() bool {
	return e != nil && e.baseURL != ""
}

// Validate ensures the configuration is usable.
func (e *Ecoforest) Validate() error {
	if e.serial == "" {
		return errors.New("heatpump-serial is required")
	}
	if _, err := url.Parse(e.baseURL); err != nil {
		return fmt.Errorf("failed to parse heatpump url (%s): %w", e.baseURL, err)
	}
	return nil
}

func (e *Ecoforest) historyURL(day types.Day) (string, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return "", err
	}
	return u.JoinPath("historic", fmt.Sprintf("%s_%s_1_historico.csv", day, e.serial)).String(), nil
}

// GetDay returns the historic file of one local day.
func (e *Ecoforest) GetDay(ctx context.Context, day types.Day) (History, error) {
	u, err := e.historyURL(day)
	if err != nil {
		return History{}, err
	}
	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if e.authKey != "" {
			req.Header.Set("Authorization", "Basic "+e.authKey)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("heat pump status %d", resp.StatusCode)
		}
		return nil, backoff.Permanent(fmt.Errorf("heat pump status %d", resp.StatusCode))
	}
	body, err := backoff.RetryWithData(op, backoff.WithContext(e.newBackOff(), ctx))
	if err != nil {
		return History{}, fmt.Errorf("failed to fetch heat pump history for %s: %w", day, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched heat pump history", slog.String("day", day.String()), slog.Int("bytes", len(body)))
	return ParseHistory(bytes.NewReader(body), day, e.loc)
}

// GetHistory returns the samples within [from, to), fetching every local day
// the window touches.
func (e *Ecoforest) GetHistory(ctx context.Context, from, to time.Time) (History, error) {
	var h History
	for day := types.DayOf(from.In(e.loc)); day.Midnight(e.loc).Before(to); day = day.AddDays(1) {
		dh, err := e.GetDay(ctx, day)
		if err != nil {
			return History{}, err
		}
		h.append(dh.Window(from, to))
	}
	return h, nil
}
