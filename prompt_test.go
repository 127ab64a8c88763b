package main

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSelectOption(t *testing.T) {
	options := []string{"argocd", "codefresh-runtime", "default"}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "first choice", input: "1\n", want: "argocd"},
		{name: "surrounding whitespace", input: "  3 \n", want: "default"},
		{name: "retries after invalid input", input: "zero\n0\n4\n2\n", want: "codefresh-runtime"},
		{name: "last line without newline", input: "x\n3", want: "default"},
		{name: "input ends", input: "9\n", wantErr: errNoSelection},
		{name: "empty input", input: "", wantErr: errNoSelection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := selectOption(bufio.NewReader(strings.NewReader(tt.input)), &out, "Select a namespace", options)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("selectOption: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !strings.Contains(out.String(), "  2. codefresh-runtime") {
				t.Errorf("options not listed:\n%s", out.String())
			}
		})
	}
}

func TestSelectOption_NoOptions(t *testing.T) {
	if _, err := selectOption(bufio.NewReader(strings.NewReader("1\n")), &bytes.Buffer{}, "Select a runtime", nil); err == nil {
		t.Fatal("expected an error with no options")
	}
}

func TestSelectOption_SharedReader(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("3\n2\n"))
	options := []string{"argocd", "codefresh-runtime", "default"}

	first, err := selectOption(in, &bytes.Buffer{}, "Select a Pipelines runtime", options)
	if err != nil {
		t.Fatalf("first selection: %v", err)
	}
	second, err := selectOption(in, &bytes.Buffer{}, "Select a namespace", options)
	if err != nil {
		t.Fatalf("second selection: %v", err)
	}
	if first != "default" || second != "codefresh-runtime" {
		t.Errorf("got %q then %q, want default then codefresh-runtime", first, second)
	}
}
