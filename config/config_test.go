package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
broker:
  base_url: https://openapi.koreainvestment.com:9443
  ws_url: ws://ops.koreainvestment.com:21000
  app_key: test-key
  app_secret: test-secret
  account_no: "12345678-01"
  rate_per_sec: 15
time_slots:
  - name: morning
    start: "09:00"
    end: "11:30"
    preparation_offset_min: 15
    primary:
      - strategy_tag: gap
        weight: 0.6
sizing:
  base_ratio: 0.2
  max_ratio: 0.3
  cap_krw: 2000000
  min_invest_krw: 300000
  safety_discount: 0.1
`

func writeSampleConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoad_ParsesNestedSections(t *testing.T) {
	cfg, err := Load(writeSampleConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.AppKey != "test-key" {
		t.Fatalf("expected app_key test-key, got %s", cfg.Broker.AppKey)
	}
	if len(cfg.TimeSlots) != 1 || cfg.TimeSlots[0].Name != "morning" {
		t.Fatalf("expected one morning time slot, got %+v", cfg.TimeSlots)
	}
	if cfg.Sizing.MinInvestKRW != 300000 {
		t.Fatalf("expected min_invest_krw 300000, got %d", cfg.Sizing.MinInvestKRW)
	}
}

func TestValidate_RejectsMissingBrokerCredentials(t *testing.T) {
	cfg := &Config{
		Broker:    BrokerConfig{BaseURL: "x", WSURL: "y", RatePerSec: 1, AccountNo: "1"},
		TimeSlots: []TimeSlotConfig{{Name: "a", Start: "09:00", End: "10:00"}},
		Sizing:    SizingConfig{BaseRatio: 0.2, MinInvestKRW: 300000},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing app_key/app_secret")
	}
}

func TestParseTimeOfDay_ParsesHHMM(t *testing.T) {
	ts, err := ParseTimeOfDay("09:15")
	if err != nil {
		t.Fatalf("ParseTimeOfDay: %v", err)
	}
	if ts.Hour() != 9 || ts.Minute() != 15 {
		t.Fatalf("expected 09:15, got %v", ts)
	}
}
