package storage

import "testing"

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name      string
		bucket    string
		key       string
		shouldErr bool
	}{
		{"s3://images/openwrt.img.gz", "images", "openwrt.img.gz", false},
		{"s3://images/releases/24.10/openwrt.img.gz", "images", "releases/24.10/openwrt.img.gz", false},
		{"s3://images/", "", "", true},
		{"s3://images", "", "", true},
		{"s3:///disk.img", "", "", true},
		{"s3://images/dir/", "", "", true},
		{"/local/disk.img", "", "", true},
	}

	for _, tt := range tests {
		loc, err := ParseLocation(tt.name)
		if tt.shouldErr {
			if err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error for %s: %v", tt.name, err)
			continue
		}
		if loc.Bucket != tt.bucket || loc.Key != tt.key {
			t.Errorf("ParseLocation(%s) = %+v", tt.name, loc)
		}
		if loc.String() != tt.name {
			t.Errorf("expected round trip to %s, got %s", tt.name, loc.String())
		}
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("s3://bucket/key") {
		t.Error("expected s3 name to be remote")
	}
	if IsRemote("disk.img.gz") {
		t.Error("expected local name not to be remote")
	}
}
