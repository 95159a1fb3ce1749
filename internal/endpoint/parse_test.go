package endpoint

import "testing"

func TestParseDestinationLocal(t *testing.T) {
	spec, err := ParseDestination("/backup")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Scheme != "file" || spec.Path != "/backup" {
		t.Fatalf("got %+v", spec)
	}
}

func TestParseDestinationSSH(t *testing.T) {
	spec, err := ParseDestination("ssh://user@nas:2222/b")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Scheme != "ssh" || spec.Host != "nas" || spec.User != "user" || spec.Port != "2222" || spec.Path != "/b" {
		t.Fatalf("got %+v", spec)
	}
}

func TestParseDestinationShell(t *testing.T) {
	spec, err := ParseDestination("shell://cat > /tmp/%DEST%.img")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Scheme != "shell" || spec.Command != "cat > /tmp/%DEST%.img" {
		t.Fatalf("got %+v", spec)
	}
}

func TestParseDestinationInvalid(t *testing.T) {
	if _, err := ParseDestination("relative/path"); err == nil {
		t.Fatal("expected error for non-absolute, non-scheme destination")
	}
	if _, err := ParseDestination("ssh://"); err == nil {
		t.Fatal("expected error for ssh:// with no host/path")
	}
	if _, err := ParseDestination("shell://"); err == nil {
		t.Fatal("expected error for empty shell command")
	}
}
