package computer

import (
	"encoding/base64"
	"fmt"
)

func encodePowerShell(code, marker string) ([]byte, error) {
	b64 := base64.StdEncoding.EncodeToString([]byte(code))
	return fmt.Appendf(nil,
		"try { Invoke-Expression ([System.Text.Encoding]::UTF8.GetString([System.Convert]::FromBase64String('%s'))) | Out-String -Stream } "+
			"catch { $_ | Out-String -Stream }; Write-Output '%s'\n",
		b64, marker), nil
}

func newPowerShellSession(opts Options) (ExecutionSession, error) {
	return newSubprocessSession(replConfig{
		language: LangPowerShell,
		argv: func() ([]string, error) {
			bin, err := lookPath("pwsh", "powershell")
			if err != nil {
				return nil, err
			}
			return []string{bin, "-NoLogo", "-NoProfile", "-NonInteractive", "-Command", "-"}, nil
		},
		encode: encodePowerShell,
	}, opts), nil
}
