package render

import (
	"fmt"
	"strings"

	"github.com/osvaldoandrade/qrbot/pkg/domain"
)

// Caption is the message posted alongside the QR image.
func Caption(sourceURL, buildNumber string) string {
	var b strings.Builder
	b.WriteString("📱 *Android APK Build Complete!*\n\n")
	if buildNumber != "" {
		fmt.Fprintf(&b, "Build Number: #%s\n", buildNumber)
	}
	fmt.Fprintf(&b, "APK URL: %s\n\n", sourceURL)
	b.WriteString("👇 Scan QR code to download")
	return b.String()
}

func Filename(buildNumber string) string {
	if buildNumber == "" {
		buildNumber = "latest"
	}
	return fmt.Sprintf("apk-qrcode-%s.png", buildNumber)
}

// Artifact renders everything one delivery needs. Style errors surface as
// *domain.ValidationError.
func Artifact(req domain.ArtifactRequest) (domain.Artifact, error) {
	url := strings.TrimSpace(req.SourceURL)
	build := strings.TrimSpace(req.BuildNumber)
	img, err := QR(url, req.Options)
	if err != nil {
		return domain.Artifact{}, err
	}
	return domain.Artifact{
		Image:    img,
		Filename: Filename(build),
		Title:    "APK QR code",
		Caption:  Caption(url, build),
	}, nil
}
