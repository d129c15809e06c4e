package cmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
)

func TestParseIDs(t *testing.T) {
	tests := []struct {
		args    []string
		want    []int64
		wantErr bool
	}{
		{[]string{"123"}, []int64{123}, false},
		{[]string{"5", "7"}, []int64{5, 7}, false},
		{[]string{"abc"}, nil, true},
		{[]string{"0"}, nil, true},
		{[]string{"-4"}, nil, true},
	}

	for _, tt := range tests {
		got, err := parseIDs(tt.args)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseIDs(%v) expected error", tt.args)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseIDs(%v) unexpected error: %v", tt.args, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseIDs(%v) = %v, want %v", tt.args, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseIDs(%v) = %v, want %v", tt.args, got, tt.want)
			}
		}
	}
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	saved := cfg.Backend
	defer func() { cfg.Backend = saved }()

	cfg.Backend = "cassandra"
	if _, err := openStore(context.Background()); err == nil {
		t.Error("openStore() with an unknown backend should fail")
	}
}

func TestResolveRegionBBoxWins(t *testing.T) {
	savedRegion, savedBBox := cfg.Region, cfg.BBox
	defer func() { cfg.Region, cfg.BBox = savedRegion, savedBBox }()

	cfg.Region = "germany"
	cfg.BBox = "7.40,43.72,7.44,43.76"

	r, err := resolveRegion()
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "bbox" {
		t.Errorf("region = %v, want the bbox region", r)
	}
}

func TestReportFlagDefaults(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
		want string
	}{
		{"scan", "all", "true"},
		{"update", "all", "true"},
		{"start", "all", "true"},
		{"scan", "with-info", "false"},
	}

	cmds := map[string]*cobra.Command{
		"scan":   scanCmd,
		"update": replicationUpdateCmd,
		"start":  replicationStartCmd,
	}

	for _, tt := range tests {
		f := cmds[tt.cmd].Flags().Lookup(tt.flag)
		if f == nil {
			t.Errorf("%s: --%s not defined", tt.cmd, tt.flag)
			continue
		}
		if f.DefValue != tt.want {
			t.Errorf("%s --%s default = %v, want %v", tt.cmd, tt.flag, f.DefValue, tt.want)
		}
	}
	if !reportOpts.All {
		t.Errorf("reportOpts.All = %v, want true", reportOpts.All)
	}
}
