package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDependencies(t *testing.T) {
	commands := []string{
		"pip install requests numpy",
		"pip3 install -U pandas",
		"sudo apt-get install -y ffmpeg",
		"apt install imagemagick",
		"npm install lodash",
		"npm i typescript",
		"wget https://example.com/model.bin",
		"curl -O https://example.com/data.csv",
		"cargo install ripgrep",
		"ls -la",
		"pip install requests", // duplicate
	}

	m := ExtractDependencies(commands)
	assert.Equal(t, []string{"requests", "numpy", "pandas"}, m.Pip)
	assert.Equal(t, []string{"ffmpeg", "imagemagick"}, m.Apt)
	assert.Equal(t, []string{"lodash", "typescript"}, m.Npm)
	assert.Equal(t, []string{"https://example.com/model.bin", "https://example.com/data.csv"}, m.Downloaded)
	assert.Equal(t, []string{"cargo install ripgrep"}, m.Other)
}

func TestExtractDependenciesCompoundCommands(t *testing.T) {
	m := ExtractDependencies([]string{"apt-get update && apt-get install -y jq; pip install rich"})
	assert.Equal(t, []string{"jq"}, m.Apt)
	assert.Equal(t, []string{"rich"}, m.Pip)
}

func TestExtractDependenciesEmpty(t *testing.T) {
	m := ExtractDependencies([]string{"echo hi", "cat file.txt"})
	assert.True(t, m.Empty())
}

func TestCountNetworkCommands(t *testing.T) {
	assert.Equal(t, 0, CountNetworkCommands([]string{"ls", "echo hi", "python run.py"}))
	assert.Equal(t, 3, CountNetworkCommands([]string{
		"pip install requests",
		"curl https://example.com",
		"git clone https://github.com/x/y",
		"cat SKILL.md",
	}))
	// Compound commands count each network hop.
	assert.Equal(t, 2, CountNetworkCommands([]string{"apt-get install -y jq && npm install left-pad"}))
}
