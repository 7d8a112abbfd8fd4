// Package bundle assembles the downloadable client package handed out when a
// provisioning token is redeemed: certificates, rendered nebula config,
// install script and README, zipped under the device name.
package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Package is the assembled artifact bundle for one device.
type Package struct {
	DeviceName string
	Filename   string
	Content    []byte
}

// Input carries the material and metadata the bundle is built from. Key
// material passes through to the zip only; it is never logged here.
type Input struct {
	DeviceName string
	DeviceType string
	CACertPEM  string
	HostCert   string
	HostKey    string
	Options    ClientOptions
}

// Build assembles the zip package for one provisioned device.
func Build(in Input) (Package, error) {
	configYAML, err := NewClientConfig(in.Options).Render()
	if err != nil {
		return Package{}, err
	}

	installScript, err := RenderInstallScript(in.DeviceName, in.DeviceType)
	if err != nil {
		return Package{}, err
	}

	readme, err := RenderReadme(in.DeviceName, in.DeviceType)
	if err != nil {
		return Package{}, err
	}

	entries := []struct {
		name    string
		content []byte
	}{
		{"ca.crt", []byte(in.CACertPEM)},
		{"host.crt", []byte(in.HostCert)},
		{"host.key", []byte(in.HostKey)},
		{"config.yaml", configYAML},
		{InstallScriptName(in.DeviceType), installScript},
		{"README.md", readme},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		f, err := zw.Create(in.DeviceName + "/" + entry.name)
		if err != nil {
			zw.Close()
			return Package{}, fmt.Errorf("failed to create zip entry %s: %w", entry.name, err)
		}
		if _, err := f.Write(entry.content); err != nil {
			zw.Close()
			return Package{}, fmt.Errorf("failed to write zip entry %s: %w", entry.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Package{}, fmt.Errorf("failed to finalize zip: %w", err)
	}

	return Package{
		DeviceName: in.DeviceName,
		Filename:   fmt.Sprintf("%s-nebula-client.zip", in.DeviceName),
		Content:    buf.Bytes(),
	}, nil
}
