// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newFlags(t *testing.T) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dmactl.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlags(t))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("NewFromFlags without flags differs from Default (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	fs := newFlags(t)
	for name, val := range map[string]string{
		"reg-base":          "0x90000000",
		"debug":             "true",
		"phys-channels":     "16",
		"reserved-channels": "3, 7",
		"suspend-interval":  "5us",
		"log-format":        "json",
	} {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("Set(%q, %q): %v", name, val, err)
		}
	}
	c, err := NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	if want := uint64(0x90000000); c.RegBase != want {
		t.Errorf("RegBase=%#x, want: %#x", c.RegBase, want)
	}
	if !c.Debug {
		t.Errorf("Debug=false, want: true")
	}
	if want := 16; c.PhysChannels != want {
		t.Errorf("PhysChannels=%d, want: %d", c.PhysChannels, want)
	}
	if diff := cmp.Diff([]int{3, 7}, c.ReservedChannels); diff != "" {
		t.Errorf("ReservedChannels (-want +got):\n%s", diff)
	}
	if want := 5 * time.Microsecond; c.SuspendInterval != want {
		t.Errorf("SuspendInterval=%v, want: %v", c.SuspendInterval, want)
	}
	if want := "json"; c.LogFormat != want {
		t.Errorf("LogFormat=%q, want: %q", c.LogFormat, want)
	}
}

func TestFileThenFlags(t *testing.T) {
	path := writeConfig(t, `
reg_base = 0x80000000
devmem = "/dev/fake"
coherent_base = 0x1000_0000
coherent_size = 65536
phys_channels = 24
reserved_channels = [1, 2]
suspend_interval = "2us"
`)
	fs := newFlags(t)
	if err := fs.Set("config", path); err != nil {
		t.Fatal(err)
	}
	if err := fs.Set("phys-channels", "32"); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.RegBase = 0x80000000
	want.DevMem = "/dev/fake"
	want.CoherentBase = 0x10000000
	want.CoherentSize = 65536
	want.PhysChannels = 32
	want.ReservedChannels = []int{1, 2}
	want.SuspendInterval = 2 * time.Microsecond
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestUnknownKey(t *testing.T) {
	path := writeConfig(t, "reg_bsae = 1\n")
	fs := newFlags(t)
	if err := fs.Set("config", path); err != nil {
		t.Fatal(err)
	}
	_, err := NewFromFlags(fs)
	if err == nil || !strings.Contains(err.Error(), "reg_bsae") {
		t.Errorf("NewFromFlags = %v, want unknown key error", err)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		flag string
		val  string
	}{
		{name: "log format", flag: "log-format", val: "xml"},
		{name: "phys channels", flag: "phys-channels", val: "12"},
		{name: "reserved range", flag: "reserved-channels", val: "40"},
		{name: "reg size", flag: "reg-size", val: "0"},
		{name: "lcla alignment", flag: "lcla-base", val: "0x100"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFlags(t)
			if err := fs.Set(tc.flag, tc.val); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFromFlags(fs); err == nil {
				t.Errorf("NewFromFlags with -%s=%s succeeded", tc.flag, tc.val)
			}
		})
	}
}

func TestBadFlagValue(t *testing.T) {
	fs := newFlags(t)
	if err := fs.Set("reg-base", "nope"); err == nil {
		t.Errorf("Set(reg-base, nope) succeeded")
	}
	if err := fs.Set("reserved-channels", "1,x"); err == nil {
		t.Errorf("Set(reserved-channels, 1,x) succeeded")
	}
}
