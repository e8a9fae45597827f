package mockmarket_test

import (
	"os"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type composeFile struct {
	Services map[string]struct {
		Image     string   `yaml:"image"`
		Command   []string `yaml:"command"`
		Networks  []string `yaml:"networks"`
		DependsOn map[string]struct {
			Condition string `yaml:"condition"`
		} `yaml:"depends_on"`
	} `yaml:"services"`
	Networks map[string]struct {
		Internal bool `yaml:"internal"`
	} `yaml:"networks"`
}

func loadCompose(t *testing.T) composeFile {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("failed to read docker-compose.yml: %v", err)
	}
	var c composeFile
	if err := yaml.Unmarshal(data, &c); err != nil {
		t.Fatalf("docker-compose.yml is not valid YAML: %v", err)
	}
	return c
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	content := string(data)

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use a distroless image, got: %s", lastFrom)
	}

	// distrolessにはシェルがないため、ヘルスチェックはサブコマンドで行う
	if !strings.Contains(content, `"mockmarket", "healthcheck"`) && !strings.Contains(content, `mockmarket", "healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
	if !strings.Contains(content, "./cmd/mockmarket") {
		t.Error("Dockerfile should build ./cmd/mockmarket")
	}
}

func TestDockerComposeServices(t *testing.T) {
	c := loadCompose(t)

	for _, name := range []string{"api", "worker", "migrate", "db", "redis"} {
		if _, ok := c.Services[name]; !ok {
			t.Errorf("docker-compose.yml should contain service %q", name)
		}
	}

	if !strings.HasPrefix(c.Services["db"].Image, "postgres:") {
		t.Errorf("db image = %q, want postgres", c.Services["db"].Image)
	}
	if !strings.HasPrefix(c.Services["redis"].Image, "redis:") {
		t.Errorf("redis image = %q, want redis", c.Services["redis"].Image)
	}
}

func TestDockerComposeCommands(t *testing.T) {
	c := loadCompose(t)

	want := map[string]string{"api": "serve", "worker": "worker", "migrate": "migrate"}
	for svc, cmd := range want {
		if got := c.Services[svc].Command; len(got) == 0 || got[0] != cmd {
			t.Errorf("%s command = %v, want %q", svc, got, cmd)
		}
	}

	// api/workerはマイグレーション完了後に起動する
	for _, svc := range []string{"api", "worker"} {
		if c.Services[svc].DependsOn["migrate"].Condition != "service_completed_successfully" {
			t.Errorf("%s should wait for migrate to complete", svc)
		}
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	c := loadCompose(t)

	if !c.Networks["backend"].Internal {
		t.Error("backend network should be internal")
	}

	// 株価APIへの外部通信はapiのみ許可する
	for name, svc := range c.Services {
		hasExternal := slices.Contains(svc.Networks, "external")
		if name == "api" && !hasExternal {
			t.Error("api should join the external network for quote provider egress")
		}
		if name != "api" && hasExternal {
			t.Errorf("%s should not join the external network", name)
		}
	}
}
