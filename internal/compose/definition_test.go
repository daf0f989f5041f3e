package compose

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const devCompose = `
services:
  postgres:
    image: postgres:16
    container_name: postgres
  kafka-0:
    image: bitnami/kafka:3.7
  microservice-config:
    build: ./microservice-config
    container_name: config-server
  microservice-eureka:
    build:
      context: ./microservice-eureka
  microservice-order:
    build: ./microservice-order
    image: ${REGISTRY:-local}/order:latest
`

func projectDir(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return dir
}

func TestParseDefinition_Basic(t *testing.T) {
	dir := projectDir(t, "Shop-Stack")

	def, err := ParseDefinition(context.Background(), []byte(devCompose), dir, map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(def.Services) != 5 {
		t.Fatalf("expected 5 services, got %d", len(def.Services))
	}
	if def.Fingerprint == "" {
		t.Fatal("expected fingerprint")
	}
	if def.Project != "shop-stack" {
		t.Fatalf("expected project shop-stack, got %q", def.Project)
	}

	names := def.ContainerNames()
	want := map[string]string{
		"postgres":            "postgres",
		"microservice-config": "config-server",
		"kafka-0":             "shop-stack-kafka-0-1",
		"microservice-eureka": "shop-stack-microservice-eureka-1",
		"microservice-order":  "shop-stack-microservice-order-1",
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected container names: %v", names)
	}

	if !def.Services["microservice-eureka"].Buildable {
		t.Fatal("expected eureka to be buildable")
	}
	if def.Services["kafka-0"].Buildable {
		t.Fatal("expected kafka-0 not to be buildable")
	}
}

func TestDefinition_BuildableServicesOrder(t *testing.T) {
	def, err := ParseDefinition(context.Background(), []byte(devCompose), t.TempDir(), map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := def.BuildableServices([]string{"postgres", "microservice-order", "microservice-config"})
	want := []string{"microservice-order", "microservice-config", "microservice-eureka"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDefinition_Missing(t *testing.T) {
	def := Definition{Services: map[string]Service{"postgres": {Name: "postgres"}}}

	got := def.Missing([]string{"postgres", "kafka-0"})
	if !reflect.DeepEqual(got, []string{"kafka-0"}) {
		t.Fatalf("unexpected missing list: %v", got)
	}
}

func TestLoadDefinition_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docker-compose.dev.yml")
	if err := os.WriteFile(path, []byte(devCompose), 0o644); err != nil {
		t.Fatalf("write compose: %v", err)
	}

	def, err := LoadDefinition(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Path != path {
		t.Fatalf("expected path %q, got %q", path, def.Path)
	}
	if _, ok := def.Services["microservice-order"]; !ok {
		t.Fatal("expected microservice-order")
	}
}

func TestLoadDefinition_MissingFile(t *testing.T) {
	if _, err := LoadDefinition(context.Background(), filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseDefinition_InvalidYAML(t *testing.T) {
	_, err := ParseDefinition(context.Background(), []byte("services: ["), t.TempDir(), map[string]string{})
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestParseDefinition_Empty(t *testing.T) {
	_, err := ParseDefinition(context.Background(), nil, t.TempDir(), map[string]string{})
	if err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestParseDefinition_ProjectName(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{name: "directory", body: devCompose, env: map[string]string{}, want: "shop-stack"},
		{name: "name field", body: "name: webshop\n" + devCompose, env: map[string]string{}, want: "webshop"},
		{name: "environment wins", body: "name: webshop\n" + devCompose, env: map[string]string{"COMPOSE_PROJECT_NAME": "ci_run"}, want: "ci_run"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseDefinition(context.Background(), []byte(tt.body), projectDir(t, "shop-stack"), tt.env)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if def.Project != tt.want {
				t.Fatalf("expected project %q, got %q", tt.want, def.Project)
			}
			if got := def.ContainerNames()["kafka-0"]; got != tt.want+"-kafka-0-1" {
				t.Fatalf("unexpected generated container name %q", got)
			}
		})
	}
}

func TestDefinition_ContainerNamesWithoutProject(t *testing.T) {
	def := Definition{Services: map[string]Service{
		"postgres": {Name: "postgres", ContainerName: "db"},
		"kafka-0":  {Name: "kafka-0"},
	}}

	if got := def.ContainerNames(); !reflect.DeepEqual(got, map[string]string{"postgres": "db"}) {
		t.Fatalf("expected only explicit names, got %v", got)
	}
}
