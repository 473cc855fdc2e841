package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/CivicPipe/internal/api"
	"github.com/BTreeMap/CivicPipe/internal/flow"
	"github.com/BTreeMap/CivicPipe/internal/scheduler"
	"github.com/BTreeMap/CivicPipe/internal/util"
)

func TestApplyDefaults(t *testing.T) {
	var c Config
	applyDefaults(&c)

	if c.StateDir != DefaultStateDir {
		t.Errorf("expected state dir %s, got %s", DefaultStateDir, c.StateDir)
	}
	if want := filepath.Join(DefaultStateDir, DefaultAppDBFileName); c.DatabaseDSN != want {
		t.Errorf("expected database DSN %s, got %s", want, c.DatabaseDSN)
	}
	if want := "file:" + filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"; c.WhatsAppDBDSN != want {
		t.Errorf("expected WhatsApp DSN %s, got %s", want, c.WhatsAppDBDSN)
	}
	if c.APIAddr != api.DefaultAddr {
		t.Errorf("expected API addr %s, got %s", api.DefaultAddr, c.APIAddr)
	}
	if c.CountryCode != util.DefaultCountryCode {
		t.Errorf("expected country code %s, got %s", util.DefaultCountryCode, c.CountryCode)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	c := Config{
		StateDir:    "/srv/civic",
		DatabaseDSN: "postgres://user:pass@db/civic",
		APIAddr:     ":9000",
		CountryCode: "+1",
	}
	applyDefaults(&c)

	if c.DatabaseDSN != "postgres://user:pass@db/civic" {
		t.Errorf("explicit database DSN overwritten: %s", c.DatabaseDSN)
	}
	if c.APIAddr != ":9000" || c.CountryCode != "+1" {
		t.Errorf("explicit values overwritten: %+v", c)
	}
	if want := "file:/srv/civic/whatsmeow.db?_foreign_keys=on"; c.WhatsAppDBDSN != want {
		t.Errorf("expected derived WhatsApp DSN %s, got %s", want, c.WhatsAppDBDSN)
	}
}

func envConfig() Config {
	c := Config{MaxAttempts: flow.DefaultMaxAttempts, ClassifyTimeout: flow.DefaultClassifyTimeout}
	applyDefaults(&c)
	return c
}

func TestParseCommandLineFlagsDefaults(t *testing.T) {
	env := envConfig()
	c, err := parseCommandLineFlags(nil, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != env {
		t.Errorf("expected environment config unchanged, got %+v", c)
	}
}

func TestParseCommandLineFlagsOverrides(t *testing.T) {
	c, err := parseCommandLineFlags([]string{
		"-api-addr", ":7000",
		"-qr-output", "/tmp/qr.txt",
		"-numeric-code",
		"-openai-api-key", "sk-test",
		"-otp-max-attempts", "5",
	}, envConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.APIAddr != ":7000" {
		t.Errorf("expected api addr :7000, got %s", c.APIAddr)
	}
	if c.QRPath != "/tmp/qr.txt" || !c.NumericCode {
		t.Errorf("expected login flags applied, got qr=%q numeric=%v", c.QRPath, c.NumericCode)
	}
	if c.OpenAIKey != "sk-test" {
		t.Errorf("expected openai key from flag, got %q", c.OpenAIKey)
	}
	if c.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", c.MaxAttempts)
	}
}

func TestStateDirFlagMovesDerivedDSNs(t *testing.T) {
	c, err := parseCommandLineFlags([]string{"-state-dir", "/data/civic"}, envConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.StateDir != "/data/civic" {
		t.Errorf("expected state dir /data/civic, got %s", c.StateDir)
	}
	if want := "/data/civic/civicpipe.db"; c.DatabaseDSN != want {
		t.Errorf("expected database DSN %s, got %s", want, c.DatabaseDSN)
	}
	if want := "file:/data/civic/whatsmeow.db?_foreign_keys=on"; c.WhatsAppDBDSN != want {
		t.Errorf("expected WhatsApp DSN %s, got %s", want, c.WhatsAppDBDSN)
	}
}

func TestStateDirFlagKeepsExplicitDSN(t *testing.T) {
	env := envConfig()
	env.DatabaseDSN = "postgres://db/civic"
	c, err := parseCommandLineFlags([]string{"-state-dir", "/data/civic"}, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DatabaseDSN != "postgres://db/civic" {
		t.Errorf("explicit DSN must not follow state dir, got %s", c.DatabaseDSN)
	}
}

func TestParseCommandLineFlagsRejectsBadAttempts(t *testing.T) {
	if _, err := parseCommandLineFlags([]string{"-otp-max-attempts", "0"}, envConfig()); err == nil {
		t.Fatal("expected error for zero attempts")
	}
	if _, err := parseCommandLineFlags([]string{"-no-such-flag"}, envConfig()); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestTwilioConfigured(t *testing.T) {
	c := Config{TwilioAccountSID: "AC1", TwilioAuthToken: "tok"}
	if c.twilioConfigured() {
		t.Error("expected partial Twilio config to be unconfigured")
	}
	c.TwilioServiceSID = "VA1"
	if !c.twilioConfigured() {
		t.Error("expected full Twilio config to be configured")
	}
}

func TestOptionBuilders(t *testing.T) {
	c := envConfig()
	if got := len(c.whatsAppOptions()); got != 1 {
		t.Errorf("expected only DSN option by default, got %d", got)
	}
	c.QRPath = "/tmp/qr"
	c.NumericCode = true
	if got := len(c.whatsAppOptions()); got != 3 {
		t.Errorf("expected 3 WhatsApp options, got %d", got)
	}
	if got := len(c.genaiOptions()); got != 1 {
		t.Errorf("expected 1 genai option without model, got %d", got)
	}
	c.OpenAIModel = "gpt-4o"
	if got := len(c.genaiOptions()); got != 2 {
		t.Errorf("expected 2 genai options with model, got %d", got)
	}
	if got := len(c.engineOptions()); got != 4 {
		t.Errorf("expected 4 engine options, got %d", got)
	}
}

func TestOpenPublisherWithoutNATS(t *testing.T) {
	p, err := openPublisher(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()
	if p == nil {
		t.Fatal("expected a publisher")
	}
}

func TestOpenStorageLocal(t *testing.T) {
	dir := t.TempDir()
	st, err := openStorage(t.Context(), Config{StateDir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st == nil {
		t.Fatal("expected storage")
	}
}

func TestEnsureStateDirectories(t *testing.T) {
	dir := t.TempDir()
	c := Config{StateDir: filepath.Join(dir, "state"), ClassifyTimeout: time.Second}
	applyDefaults(&c)
	if err := ensureStateDirectories(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyDefaultsSweepSchedule(t *testing.T) {
	var c Config
	applyDefaults(&c)
	if c.SweepSchedule != scheduler.DefaultSweepSchedule {
		t.Errorf("expected sweep schedule %q, got %q", scheduler.DefaultSweepSchedule, c.SweepSchedule)
	}
}
