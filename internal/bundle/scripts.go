package bundle

import (
	"bytes"
	"fmt"
	"text/template"
)

// InstallScriptName returns the script filename appropriate for the device
// type (windows gets a batch file, everything else a shell script).
func InstallScriptName(deviceType string) string {
	if deviceType == "windows" {
		return "install.bat"
	}
	return "install.sh"
}

var linuxInstallTemplate = template.Must(template.New("linux").Parse(`#!/bin/bash
# Nebula VPN install script for {{.DeviceName}}
set -e

if [ "$EUID" -ne 0 ]; then
    echo "Please run as root (sudo ./install.sh)"
    exit 1
fi

if ! command -v nebula >/dev/null 2>&1; then
    echo "Downloading nebula binary..."
    wget -q https://github.com/slackhq/nebula/releases/download/v1.8.2/nebula-linux-amd64.tar.gz
    tar -xzf nebula-linux-amd64.tar.gz
    mv nebula /usr/local/bin/
    chmod +x /usr/local/bin/nebula
fi

mkdir -p /etc/nebula
cp ca.crt host.crt host.key config.yaml /etc/nebula/
chmod 600 /etc/nebula/host.key

cat > /etc/systemd/system/nebula.service << 'SERVICE'
[Unit]
Description=Nebula VPN
After=network.target

[Service]
Type=simple
ExecStart=/usr/local/bin/nebula -config /etc/nebula/config.yaml
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
SERVICE

systemctl daemon-reload
systemctl enable nebula
systemctl start nebula

echo "Nebula VPN installed and started."
`))

var macosInstallTemplate = template.Must(template.New("macos").Parse(`#!/bin/bash
# Nebula VPN install script for {{.DeviceName}}
set -e

if ! command -v nebula >/dev/null 2>&1; then
    echo "Downloading nebula binary..."
    curl -sLO https://github.com/slackhq/nebula/releases/download/v1.8.2/nebula-darwin.tar.gz
    tar -xzf nebula-darwin.tar.gz
    sudo mv nebula /usr/local/bin/
    sudo chmod +x /usr/local/bin/nebula
fi

sudo mkdir -p /etc/nebula
sudo cp ca.crt host.crt host.key config.yaml /etc/nebula/
sudo chmod 600 /etc/nebula/host.key

sudo tee /Library/LaunchDaemons/net.overmesh.nebula.plist > /dev/null << 'PLIST'
<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>net.overmesh.nebula</string>
    <key>ProgramArguments</key>
    <array>
        <string>/usr/local/bin/nebula</string>
        <string>-config</string>
        <string>/etc/nebula/config.yaml</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
</dict>
</plist>
PLIST

sudo launchctl load /Library/LaunchDaemons/net.overmesh.nebula.plist
echo "Nebula VPN installed and started."
`))

var windowsInstallTemplate = template.Must(template.New("windows").Parse(`@echo off
REM Nebula VPN install script for {{.DeviceName}}

if not exist "C:\Program Files\Nebula\nebula.exe" (
    echo Downloading nebula binary...
    powershell -Command "Invoke-WebRequest -Uri 'https://github.com/slackhq/nebula/releases/download/v1.8.2/nebula-windows-amd64.zip' -OutFile 'nebula.zip'"
    powershell -Command "Expand-Archive -Path 'nebula.zip' -DestinationPath 'C:\Program Files\Nebula\'"
)

mkdir "C:\Program Files\Nebula\config"
copy ca.crt "C:\Program Files\Nebula\config\"
copy host.crt "C:\Program Files\Nebula\config\"
copy host.key "C:\Program Files\Nebula\config\"
copy config.yaml "C:\Program Files\Nebula\config\"

sc create NebulaVPN binPath= "C:\Program Files\Nebula\nebula.exe -config C:\Program Files\Nebula\config\config.yaml" start= auto
sc start NebulaVPN

echo Nebula VPN installed and started.
`))

var readmeTemplate = template.Must(template.New("readme").Parse(`# Nebula VPN client package - {{.DeviceName}}

This package contains everything {{.DeviceName}} ({{.DeviceType}}) needs to
join the VPN.

## Contents

- ca.crt       - certificate authority certificate
- host.crt     - this device's certificate
- host.key     - this device's private key (keep it secret)
- config.yaml  - nebula configuration
- {{.ScriptName}} - installation script

## Quick start

Linux/macOS:

    chmod +x install.sh
    sudo ./install.sh

Windows: run install.bat as Administrator.

## Manual installation

1. Install the nebula binary from https://github.com/slackhq/nebula/releases
2. Copy all files to /etc/nebula/ (or C:\Program Files\Nebula\ on Windows)
3. Run: nebula -config /etc/nebula/config.yaml

Keep host.key secure. Never share it.
`))

type scriptData struct {
	DeviceName string
	DeviceType string
	ScriptName string
}

// RenderInstallScript produces the platform install script for a device.
// Unknown device types (android, ios, ...) get the linux script as the
// closest manual reference.
func RenderInstallScript(deviceName, deviceType string) ([]byte, error) {
	tmpl := linuxInstallTemplate
	switch deviceType {
	case "macos":
		tmpl = macosInstallTemplate
	case "windows":
		tmpl = windowsInstallTemplate
	}
	return renderTemplate(tmpl, scriptData{DeviceName: deviceName, DeviceType: deviceType})
}

// RenderReadme produces the package README.
func RenderReadme(deviceName, deviceType string) ([]byte, error) {
	return renderTemplate(readmeTemplate, scriptData{
		DeviceName: deviceName,
		DeviceType: deviceType,
		ScriptName: InstallScriptName(deviceType),
	})
}

func renderTemplate(tmpl *template.Template, data scriptData) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s template: %w", tmpl.Name(), err)
	}
	return buf.Bytes(), nil
}
