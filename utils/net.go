package utils

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

func GenerateUUID() string {
	return uuid.New().String()
}

func GetPublicIP() (string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("https://api.ipify.org?format=text")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipify returned %s", resp.Status)
	}

	ip, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(ip)), nil
}

// PublicBaseURL returns configured when set, otherwise an http URL built from
// the host's public IP and port. Gateways need it to reach the webhook routes.
func PublicBaseURL(configured, port string) (string, error) {
	if configured != "" {
		return strings.TrimRight(configured, "/"), nil
	}
	ip, err := GetPublicIP()
	if err != nil {
		return "", fmt.Errorf("resolve public ip: %w", err)
	}
	return fmt.Sprintf("http://%s:%s", ip, port), nil
}
