package winapi

import "testing"

func TestWow64PathExpand(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			"system32 rewritten",
			`C:\Windows\System32\kernel32.dll`,
			`C:\Windows\SysWOW64\kernel32.dll`,
		},
		{
			"case-insensitive match",
			`c:\windows\SYSTEM32\ntdll.dll`,
			`c:\windows\SysWOW64\ntdll.dll`,
		},
		{
			"unrelated path untouched",
			`C:\Program Files\app\app.exe`,
			`C:\Program Files\app\app.exe`,
		},
		{
			"system32 as filename untouched",
			`C:\data\system32`,
			`C:\data\system32`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Wow64PathExpand(tt.path); got != tt.want {
				t.Errorf("Wow64PathExpand(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestProtectionMasks(t *testing.T) {
	executable := []uint32{PageExecute, PageExecuteRead, PageExecuteReadWrite, PageExecuteWriteCopy}
	for _, p := range executable {
		if p&ExecutableMask == 0 {
			t.Errorf("0x%x missing from ExecutableMask", p)
		}
	}

	nonExecutable := []uint32{PageNoAccess, PageReadonly, PageReadWrite, PageWriteCopy}
	for _, p := range nonExecutable {
		if p&ExecutableMask != 0 {
			t.Errorf("0x%x wrongly in ExecutableMask", p)
		}
	}

	writable := []uint32{PageReadWrite, PageWriteCopy, PageExecuteReadWrite, PageExecuteWriteCopy}
	for _, p := range writable {
		if p&WritableMask == 0 {
			t.Errorf("0x%x missing from WritableMask", p)
		}
	}
}
