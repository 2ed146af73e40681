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

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"ux500.dev/dma40/pkg/dma40"
	"ux500.dev/dma40/pkg/errors/dmaerr"
)

func TestScenarios(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			if err := runScenario(sc); err != nil {
				t.Errorf("scenario %s: %v", sc.name, err)
			}
		})
	}
}

func TestSelftestReport(t *testing.T) {
	broken := scenario{
		name: "broken",
		run: func(*simEngine) error {
			return errors.New("boom")
		},
	}
	run := append([]scenario{broken}, scenarios...)
	var out bytes.Buffer
	if failed := selftest(context.Background(), &out, run); failed != 1 {
		t.Errorf("selftest reported %d failures, want 1", failed)
	}
	var want []string
	want = append(want, "FAIL broken: boom")
	for _, sc := range scenarios {
		want = append(want, "PASS "+sc.name)
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestSelftestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	if failed := selftest(ctx, &out, scenarios); failed != len(scenarios) {
		t.Errorf("cancelled selftest reported %d failures, want %d", failed, len(scenarios))
	}
}

func TestScenarioLeak(t *testing.T) {
	leaky := scenario{
		name: "leaky",
		run: func(s *simEngine) error {
			_, err := s.e.Request(memToMem(64, dma40.Width32))
			return err
		},
	}
	// Close frees the pipe left behind, so nothing leaks.
	if err := runScenario(leaky); err != nil {
		t.Errorf("runScenario: %v", err)
	}
}

func TestPlanPrint(t *testing.T) {
	p := &Plan{srcWidth: 1, dstWidth: 1}
	var out bytes.Buffer
	if err := p.print(&out, 200000, dma40.ModePhysical); err != nil {
		t.Fatalf("print: %v", err)
	}
	want := `200000 bytes, physical mode: 4 descriptors of up to 65535 bytes, budget 8
  0: 65535 bytes
  1: 65535 bytes
  2: 65535 bytes
  3: 3395 bytes
`
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("plan output (-want +got):\n%s", diff)
	}
}

func TestPlanOverBudget(t *testing.T) {
	p := &Plan{srcWidth: 1, dstWidth: 1}
	var out bytes.Buffer
	err := p.print(&out, 65535*20, dma40.ModeLogical)
	if !errors.Is(err, dmaerr.EINVAL) {
		t.Errorf("print = %v, want EINVAL", err)
	}
	if !strings.Contains(out.String(), "20 descriptors") {
		t.Errorf("over budget plan not shown:\n%s", out.String())
	}
}

func TestDumpRegs(t *testing.T) {
	s, err := newSimEngine(dma40.Config{PhysChannels: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	var out bytes.Buffer
	if err := dumpRegs(&out, s.sim.Bank(), 8); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "GCC") || !strings.Contains(out.String(), "0x000001") {
		t.Errorf("dump lacks enabled GCC:\n%s", out.String())
	}
	if strings.Contains(out.String(), "channel") {
		t.Errorf("idle channels dumped:\n%s", out.String())
	}
}
