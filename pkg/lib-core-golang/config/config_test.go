package config

import (
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfigFile(t *testing.T, dir string, name string, data string) {
	if err := ioutil.WriteFile(path.Join(dir, name), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func Test_Builder_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.json", `{
		"storage": {"driver": "sqlite3", "dsn": "default.db"},
		"server": {"port": 8080},
		"verbose": true
	}`)
	writeConfigFile(t, dir, "test.json", `{
		"server": {"port": 9090}
	}`)

	appEnv := AppEnv{ServiceName: "svc", Name: "test"}
	b := NewBuilder(appEnv, WithDir(dir))

	driver := b.NewParam("storage/driver").String()
	dsn := b.NewParam("storage/dsn").WithEnvOverride("CONFIG_TEST_DSN").String()
	port := b.NewParam("server/port").Int()
	verbose := b.NewParam("verbose").Bool()

	os.Setenv("CONFIG_TEST_DSN", "env.db")
	defer os.Unsetenv("CONFIG_TEST_DSN")

	if err := b.LoadConfig(); !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, "sqlite3", driver.Value())
	assert.Equal(t, "env.db", dsn.Value(), "env override should win")
	assert.Equal(t, 9090, port.Value(), "env file should overlay default")
	assert.True(t, verbose.Value())
}

func Test_Builder_LoadConfig_missingParam(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default.json", `{}`)

	b := NewBuilder(AppEnv{ServiceName: "svc", Name: "test"}, WithDir(dir))
	b.NewParam("no/such/param").String()

	err := b.LoadConfig()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "no/such/param")
	}
}

func Test_NewAppEnv(t *testing.T) {
	appEnv := NewAppEnv("svc")
	assert.Equal(t, "svc", appEnv.ServiceName)
	assert.Equal(t, "test", appEnv.Name, "should detect test env when running under go test")

	os.Setenv("APP_ENV", "staging")
	defer os.Unsetenv("APP_ENV")
	assert.Equal(t, "staging", NewAppEnv("svc").Name)
}
