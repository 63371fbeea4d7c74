package s3

import "testing"

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "reports/a1/report.json", want: "reports/a1/report.json"},
		{name: "simple prefix", prefix: "root", key: "reports/a1/report.json", want: "root/reports/a1/report.json"},
		{name: "prefix trailing slash", prefix: "root/", key: "reports/a1/report.json", want: "root/reports/a1/report.json"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/reports/a1/report.json", want: "root/reports/a1/report.json"},
		{name: "nested prefix", prefix: "root/sub", key: "reports/a1/report.json", want: "root/sub/reports/a1/report.json"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}
