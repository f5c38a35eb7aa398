package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/lzcstory/lzcstory/internal/auth"
)

func TestReadPassword(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr error
	}{
		{name: "argument", args: []string{"s3cret"}, want: "s3cret"},
		{name: "stdin line", stdin: "from stdin\r\nignored\n", want: "from stdin"},
		{name: "blank line", stdin: "\n", wantErr: auth.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.SetIn(strings.NewReader(tt.stdin))
			got, err := readPassword(cmd, tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("readPassword() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("readPassword() = %q, %v, want %q", got, err, tt.want)
			}
		})
	}

	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(""))
	if _, err := readPassword(cmd, nil); err == nil {
		t.Fatalf("readPassword(empty stdin) error = nil")
	}
}
