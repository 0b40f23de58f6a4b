package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// loadAuthorizedKeys reads an OpenSSH authorized_keys-style file and groups
// lines by the trailing comment field, which svnbridged treats as the
// SSH-CERT username (e.g. "ssh-ed25519 AAAA... alice").
func loadAuthorizedKeys(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open authorized keys file: %w", err)
	}
	defer f.Close()

	byUser := make(map[string][]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		_, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("parse authorized key line: %w", err)
		}
		user := comment
		if user == "" {
			user = "anonymous"
		}
		byUser[user] = append(byUser[user], line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read authorized keys file: %w", err)
	}
	return byUser, nil
}
