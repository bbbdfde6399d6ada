package command_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path"
	"regexp"
	"slices"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rhansen/buckal/internal/command"
)

func capture(t *testing.T, fd int) (_ *bytes.Buffer, _ func() error, retErr error) {
	t.Helper()

	cleanups := []func() error(nil)
	done := func() error {
		var retErr error
		for _, f := range slices.Backward(cleanups) {
			if err := f(); retErr == nil {
				retErr = err
			}
		}
		return retErr
	}
	defer func() {
		if done != nil {
			if err := done(); retErr == nil {
				retErr = err
			}
		}
	}()

	doneReading := make(chan struct{})
	cleanups = append(cleanups, func() error {
		<-doneReading
		return nil
	})

	// Create the destination buffer.
	buf := bytes.NewBuffer(nil)

	// Create a pipe to adapt the buffer's io.Writer to an *os.File.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, pw.Close)

	// Attach the pipe to the buffer.
	go func() {
		defer close(doneReading)
		if _, err := buf.ReadFrom(pr); err != nil {
			panic(err)
		}
	}()

	// Back up the original file descriptor.
	backup, err := syscall.Dup(fd)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, func() error { return syscall.Close(backup) })

	// Connect the original file descriptor to the new pipe.
	if err := syscall.Dup2((int)(pw.Fd()), fd); err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, func() error { return syscall.Dup2(backup, fd) })

	retDone := done
	done = nil
	return buf, retDone, nil
}

func runCaptured[R any](t *testing.T, fd int, work func() R) (*bytes.Buffer, R) {
	t.Helper()
	buf, done, err := capture(t, fd)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := done(); err != nil {
			t.Errorf("capture done callback failed: %v", err)
		}
	}()
	return buf, work()
}

func TestNew(t *testing.T) {
	ctx := t.Context()
	pwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		desc string
		wd   string
		want string
	}{
		{
			desc: "/",
			wd:   "/",
			want: "/\n",
		},
		{
			desc: ".",
			wd:   ".",
			want: pwd + "\n",
		},
		{
			desc: "empty string is pwd",
			wd:   "",
			want: pwd + "\n",
		},
		{
			desc: "..",
			wd:   "..",
			want: path.Dir(pwd) + "\n", // This should work even if $PWD is /.
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			cmd := command.New(ctx, tc.wd, "sh", "-c", "pwd")
			buf, err := runCaptured(t, syscall.Stdout, cmd.Run)
			if err != nil {
				t.Fatal(err)
			}
			if got := buf.String(); got != tc.want {
				t.Errorf("got %+q, want %+q", got, tc.want)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	want := "some value"
	ctx := context.WithValue(t.Context(), command.EnvKey, []string{"VAR=" + want})
	cmd := command.New(ctx, "", "sh", "-c", `printf %s "$VAR"`)
	buf, err := runCaptured(t, syscall.Stdout, cmd.Run)
	if err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != want {
		t.Errorf("got %+q, want %+q", got, want)
	}
}

func TestOutput(t *testing.T) {
	ctx := t.Context()
	for _, tc := range []struct {
		desc       string
		script     string
		want       string
		wantErr    *regexp.Regexp
		wantStatus int
	}{
		{
			desc:   "stdout only",
			script: `printf %s hello`,
			want:   "hello",
		},
		{
			desc:   "stderr is not mixed into stdout",
			script: `printf %s out; printf %s err >&2`,
			want:   "out",
		},
		{
			desc:       "failure carries stderr",
			script:     `printf %s "no such target //foo:bar" >&2; exit 3`,
			wantErr:    regexp.MustCompile(`no such target //foo:bar`),
			wantStatus: 3,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := command.Output(ctx, "", "sh", "-c", tc.script)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatal(err)
				}
				if string(got) != tc.want {
					t.Errorf("got %+q, want %+q", got, tc.want)
				}
				return
			}
			var cmdErr *command.Error
			if !errors.As(err, &cmdErr) {
				t.Fatalf("got error %v, want *command.Error", err)
			}
			if !tc.wantErr.MatchString(err.Error()) {
				t.Errorf("got error %+q, want error matching %+q", err, tc.wantErr)
			}
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				t.Fatalf("got error %v, want it to wrap *exec.ExitError", err)
			}
			if got := exitErr.ExitCode(); got != tc.wantStatus {
				t.Errorf("got exit status %v, want %v", got, tc.wantStatus)
			}
		})
	}
}

func TestDecodeJson(t *testing.T) {
	ctx := t.Context()
	type T = struct {
		Root    string `json:"root"`
		Members []string
	}
	got, err := command.DecodeJson[T](ctx, "", "printf", "%s", `{"root": "/r", "Members": ["a", "b"]}`)
	if err != nil {
		t.Fatal(err)
	}
	want := T{Root: "/r", Members: []string{"a", "b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected value (-want +got):\n%s", diff)
	}
	if _, err := command.DecodeJson[T](ctx, "", "printf", "%s", `{"root":`); err == nil {
		t.Errorf("got nil error for truncated JSON, want error")
	}
}

func TestRun(t *testing.T) {
	ctx := t.Context()
	if err := command.Run(ctx, "", nil, "true"); err != nil {
		t.Errorf("got error %v, want nil", err)
	}
	if err := command.Run(ctx, "", strings.NewReader("page"), "sh", "-c", `test "$(cat)" = page`); err != nil {
		t.Errorf("command did not read the given stdin: %v", err)
	}
	err := command.Run(ctx, "", nil, "false")
	var cmdErr *command.Error
	if !errors.As(err, &cmdErr) {
		t.Fatalf("got error %v, want *command.Error", err)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Errorf("got error %v, want exit status 1", err)
	}
}
