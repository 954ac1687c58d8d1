package provider

import "testing"

func TestPickInstanceType(t *testing.T) {
	tests := []struct {
		name string
		spec LaunchSpec
		want string
	}{
		{
			name: "no hints falls back to default",
			spec: LaunchSpec{},
			want: DefaultInstanceType,
		},
		{
			name: "override bypasses table",
			spec: LaunchSpec{InstanceType: "c5.4xlarge", MemoryMB: 512, CPUs: 1},
			want: "c5.4xlarge",
		},
		{
			name: "tiny request gets smallest tier",
			spec: LaunchSpec{MemoryMB: 512, CPUs: 1},
			want: "t3.micro",
		},
		{
			name: "exact memory ceiling fits",
			spec: LaunchSpec{MemoryMB: 2048, CPUs: 2},
			want: "t3.small",
		},
		{
			name: "memory just over ceiling bumps tier",
			spec: LaunchSpec{MemoryMB: 2049, CPUs: 1},
			want: "t3.medium",
		},
		{
			name: "cpu and memory disagree picks larger",
			spec: LaunchSpec{MemoryMB: 1024, CPUs: 4},
			want: "t3.xlarge",
		},
		{
			name: "cpu only hint",
			spec: LaunchSpec{CPUs: 8},
			want: "t3.2xlarge",
		},
		{
			name: "request beyond largest tier gets largest",
			spec: LaunchSpec{MemoryMB: 131072, CPUs: 32},
			want: "t3.2xlarge",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickInstanceType(tt.spec)
			if got != tt.want {
				t.Errorf("PickInstanceType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTiersAreSortedAscending(t *testing.T) {
	for i := 1; i < len(tiers); i++ {
		prev, cur := tiers[i-1], tiers[i]
		if cur.MemoryMB < prev.MemoryMB || cur.CPUs < prev.CPUs {
			t.Errorf("tier %s is not >= tier %s", cur.InstanceType, prev.InstanceType)
		}
	}
}
