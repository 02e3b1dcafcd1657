package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go-rtl-radio/internal/radio"
	"go-rtl-radio/internal/rtl2832u"
	"go-rtl-radio/internal/transport"
)

type fakeRadio struct {
	status  radio.Status
	tuneErr error
	tuned   []float64
	rates   []int
	gains   []rtl2832u.Gain
	ppms    []float64
}

func (f *fakeRadio) Tune(freq float64) (float64, error) {
	if f.tuneErr != nil {
		return 0, f.tuneErr
	}
	f.tuned = append(f.tuned, freq)
	return freq - 5, nil
}

func (f *fakeRadio) SetSampleRate(rate int) (int, error) {
	f.rates = append(f.rates, rate)
	return rate - 1, nil
}

func (f *fakeRadio) SetGain(g rtl2832u.Gain) error {
	f.gains = append(f.gains, g)
	return nil
}

func (f *fakeRadio) SetFrequencyCorrection(ppm float64) error {
	f.ppms = append(f.ppms, ppm)
	return nil
}

func (f *fakeRadio) Status() radio.Status { return f.status }

func (f *fakeRadio) Subscribe() (<-chan float64, func()) {
	ch := make(chan float64)
	return ch, func() {}
}

// do sends a request and decodes the envelope.
func do(t *testing.T, s *Server, method, path, body string) (int, Response) {
	t.Helper()
	app := NewApp(s)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var out Response
	if resp.StatusCode != http.StatusUpgradeRequired {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestStatus(t *testing.T) {
	fake := &fakeRadio{status: radio.Status{Frequency: 100e6, Tuner: "R820T", Running: true}}
	code, resp := do(t, New(fake, nil), http.MethodGet, "/api/radio/status", "")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("Expected success, got %d %+v", code, resp)
	}
	data := resp.Data.(map[string]any)
	r := data["radio"].(map[string]any)
	if r["frequency"] != 100e6 || r["tuner"] != "R820T" || r["running"] != true {
		t.Errorf("Unexpected status payload %v", r)
	}
	if data["listeners"] != float64(0) {
		t.Errorf("Expected no listeners, got %v", data["listeners"])
	}
}

func TestSetFrequency(t *testing.T) {
	tests := []struct {
		body string
		want float64
	}{
		{`{"frequency": 100300000}`, 100.3e6},
		{`{"frequency": "1.2GHz"}`, 1.2e9},
		{`{"frequency": "531k"}`, 531e3},
	}
	for _, tt := range tests {
		fake := &fakeRadio{}
		code, resp := do(t, New(fake, nil), http.MethodPost, "/api/radio/frequency", tt.body)
		if code != http.StatusOK || !resp.Success {
			t.Errorf("%s: expected success, got %d %+v", tt.body, code, resp)
			continue
		}
		if len(fake.tuned) != 1 || fake.tuned[0] != tt.want {
			t.Errorf("%s: expected a tune to %f, got %v", tt.body, tt.want, fake.tuned)
		}
		if got := resp.Data.(map[string]any)["frequency"]; got != tt.want-5 {
			t.Errorf("%s: expected the achieved frequency, got %v", tt.body, got)
		}
	}
}

func TestSetFrequency_BadRequest(t *testing.T) {
	for _, body := range []string{`{"frequency": "fast"}`, `{"frequency": -1}`, `{}`, `not json`} {
		fake := &fakeRadio{}
		code, resp := do(t, New(fake, nil), http.MethodPost, "/api/radio/frequency", body)
		if code != http.StatusBadRequest || resp.Success {
			t.Errorf("%s: expected 400, got %d %+v", body, code, resp)
		}
		if len(fake.tuned) != 0 {
			t.Errorf("%s: expected no tune", body)
		}
	}
}

func TestSetFrequency_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{rtl2832u.ErrTuningInfeasible, http.StatusUnprocessableEntity},
		{radio.ErrNoHardware, http.StatusConflict},
		{fmt.Errorf("set pll: %w", &transport.TransportError{Op: "control out"}), http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		fake := &fakeRadio{tuneErr: tt.err}
		code, resp := do(t, New(fake, nil), http.MethodPost, "/api/radio/frequency", `{"frequency": 5e9}`)
		if code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, code)
		}
		if resp.Success || resp.Error == "" {
			t.Errorf("%v: expected an error envelope, got %+v", tt.err, resp)
		}
	}
}

func TestSetSampleRate(t *testing.T) {
	fake := &fakeRadio{}
	s := New(fake, nil)

	code, resp := do(t, s, http.MethodPost, "/api/radio/samplerate", `{"sample_rate": "2.048M"}`)
	if code != http.StatusOK || resp.Data.(map[string]any)["sample_rate"] != float64(2_047_999) {
		t.Errorf("Expected the achieved rate, got %d %+v", code, resp)
	}

	code, _ = do(t, s, http.MethodPost, "/api/radio/samplerate", `{"sample_rate": 250000}`)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unusable rate, got %d", code)
	}
	if len(fake.rates) != 1 || fake.rates[0] != 2_048_000 {
		t.Errorf("Expected one rate change to 2048000, got %v", fake.rates)
	}
}

func TestSetPPM(t *testing.T) {
	fake := &fakeRadio{}
	s := New(fake, nil)

	if code, _ := do(t, s, http.MethodPost, "/api/radio/ppm", `{"ppm": 0}`); code != http.StatusOK {
		t.Errorf("Expected a zero correction to be accepted, got %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/radio/ppm", `{}`); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a missing ppm, got %d", code)
	}
	if len(fake.ppms) != 1 || fake.ppms[0] != 0 {
		t.Errorf("Expected one correction of 0, got %v", fake.ppms)
	}
}

func TestSetGain(t *testing.T) {
	fake := &fakeRadio{}
	s := New(fake, nil)

	for _, body := range []string{`{"gain": "auto"}`, `{"gain": 29.7}`, `{"gain": "12.5dB"}`} {
		if code, resp := do(t, s, http.MethodPost, "/api/radio/gain", body); code != http.StatusOK {
			t.Errorf("%s: expected success, got %d %+v", body, code, resp)
		}
	}
	for _, body := range []string{`{"gain": "max"}`, `{"gain": true}`, `{}`} {
		if code, _ := do(t, s, http.MethodPost, "/api/radio/gain", body); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, code)
		}
	}

	want := []rtl2832u.Gain{rtl2832u.AutoGain(), rtl2832u.ManualGain(29.7), rtl2832u.ManualGain(12.5)}
	if len(fake.gains) != len(want) {
		t.Fatalf("Expected %d gain changes, got %v", len(want), fake.gains)
	}
	for i, g := range want {
		if fake.gains[i] != g {
			t.Errorf("Change %d: expected %v, got %v", i, g, fake.gains[i])
		}
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	code, _ := do(t, New(&fakeRadio{}, nil), http.MethodGet, "/api/radio/ws", "")
	if code != http.StatusUpgradeRequired {
		t.Errorf("Expected 426 without an upgrade, got %d", code)
	}
}
