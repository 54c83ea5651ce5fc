package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turbolytics/porter/internal/registry"
)

type Logger struct {
	Level string `yaml:"level"`
}

type Global struct {
	Logger Logger `yaml:"logger"`
}

type LocalConfig struct {
	Path string `yaml:"path"`
}

type S3Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

type Repository struct {
	Type        string      `yaml:"type"`
	LocalConfig LocalConfig `yaml:"local"`
	S3Config    S3Config    `yaml:"s3"`
}

type PostgresConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type Registry struct {
	Type           string         `yaml:"type"`
	PostgresConfig PostgresConfig `yaml:"postgres"`
	MongoConfig    MongoConfig    `yaml:"mongo"`
}

type Publisher struct {
	URI string `yaml:"uri"`
}

// Connector describes the connector an ingest run registers before
// executing. Kind and Config use the registry's yaml shapes.
type Connector struct {
	Name   string          `yaml:"name"`
	Kind   registry.Kind   `yaml:"kind"`
	Config registry.Config `yaml:"config"`
}

type Ingester struct {
	Connector  Connector  `yaml:"connector"`
	Mapping    string     `yaml:"mapping"`
	DQField    string     `yaml:"dq_field"`
	Repository Repository `yaml:"repository"`
	Publisher  Publisher  `yaml:"publisher"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Porter struct {
	Global   Global   `yaml:"global"`
	Registry Registry `yaml:"registry"`
	Ingester Ingester `yaml:"ingester"`
	Server   Server   `yaml:"server"`
}

func NewPorterFromFile(fpath string) (*Porter, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var porter Porter
	if err := yaml.Unmarshal(bs, &porter); err != nil {
		return nil, err
	}

	return &porter, nil
}
