//go:build linux

package web

import "testing"

func TestSnapshotDisk_ReportsSpace(t *testing.T) {
	d := snapshotDisk(t.TempDir())
	if d.LastError != "" {
		t.Fatalf("LastError=%q", d.LastError)
	}
	if d.TotalBytes == 0 || d.AvailBytes > d.TotalBytes {
		t.Fatalf("disk=%+v", d)
	}
}

func TestSnapshotDisk_MissingDir(t *testing.T) {
	d := snapshotDisk("/definitely/not/here")
	if d.LastError == "" {
		t.Fatalf("expected error")
	}
}
