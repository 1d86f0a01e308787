// Package provisioner hands out databases to deployments, either through a
// remote provisioning service or from local docker containers.
package provisioner

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Engine names a database engine.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineRedis    Engine = "redis"
)

// ParseEngine validates an engine name.
func ParseEngine(value string) (Engine, error) {
	switch Engine(strings.ToLower(strings.TrimSpace(value))) {
	case EnginePostgres:
		return EnginePostgres, nil
	case EngineRedis:
		return EngineRedis, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEngine, value)
	}
}

// DatabaseRequest asks for a database owned by a project.
type DatabaseRequest struct {
	ProjectName string `json:"project_name" validate:"required"`
	Engine      Engine `json:"engine" validate:"required,oneof=postgres redis"`
}

// DatabaseInfo holds everything a service needs to connect to its database.
type DatabaseInfo struct {
	Engine         Engine `json:"engine"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	DatabaseName   string `json:"database_name"`
	Port           string `json:"port"`
	AddressPrivate string `json:"address_private"`
	AddressPublic  string `json:"address_public"`
}

// ConnectionString renders a URL for the database. The public form uses the
// address reachable from outside the deployment network.
func (d DatabaseInfo) ConnectionString(public bool) string {
	host := d.AddressPrivate
	if public || host == "" {
		host = d.AddressPublic
	}
	u := url.URL{Host: net.JoinHostPort(host, d.Port)}
	switch d.Engine {
	case EngineRedis:
		u.Scheme = "redis"
		if d.Password != "" {
			u.User = url.UserPassword(d.Username, d.Password)
		}
		db := d.DatabaseName
		if db == "" {
			db = "0"
		}
		u.Path = "/" + db
	default:
		u.Scheme = "postgres"
		u.User = url.UserPassword(d.Username, d.Password)
		u.Path = "/" + d.DatabaseName
	}
	return u.String()
}

// Redacted returns a copy safe to log.
func (d DatabaseInfo) Redacted() DatabaseInfo {
	if d.Password != "" {
		d.Password = "********"
	}
	return d
}

type descriptor struct {
	Type     string       `json:"type"`
	Database DatabaseInfo `json:"database"`
}

const descriptorDatabase = "database"

// EncodeDatabase serialises info as a resource descriptor.
func EncodeDatabase(info DatabaseInfo) ([]byte, error) {
	if info.Engine == "" {
		return nil, errors.New("database engine required")
	}
	return json.Marshal(descriptor{Type: descriptorDatabase, Database: info})
}

// DecodeDatabase parses a resource descriptor produced by EncodeDatabase and
// checks it describes a database of the given engine.
func DecodeDatabase(data []byte, engine Engine) (DatabaseInfo, error) {
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return DatabaseInfo{}, fmt.Errorf("decode resource descriptor: %w", err)
	}
	if d.Type != descriptorDatabase {
		return DatabaseInfo{}, fmt.Errorf("resource descriptor is %q, not a database", d.Type)
	}
	if d.Database.Engine != engine {
		return DatabaseInfo{}, fmt.Errorf("resource descriptor is a %s database, want %s", d.Database.Engine, engine)
	}
	return d.Database, nil
}
