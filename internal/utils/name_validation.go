package utils

import (
	"regexp"
	"strings"
)

var (
	githubOwnerRegex = regexp.MustCompile(`^[A-Za-z0-9](?:-?[A-Za-z0-9])*$`)
	githubRepoRegex  = regexp.MustCompile(`^[-_.A-Za-z0-9]+$`)
	// GitHub accepts almost anything in environment names; SDAF uses them in
	// resource names, so they are kept to letters, digits, dashes and underscores.
	environmentNameRegex = regexp.MustCompile(`^[A-Za-z0-9](?:[-_A-Za-z0-9]{0,62})$`)
	azureNameRegex       = regexp.MustCompile(`^[A-Za-z0-9][-_.()A-Za-z0-9]{0,89}$`)
)

// IsValidRepository accepts owner/name.
func IsValidRepository(fullName string) bool {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || len(owner) > 39 {
		return false
	}
	return githubOwnerRegex.MatchString(owner) && githubRepoRegex.MatchString(name) && name != "." && name != ".."
}

func IsValidEnvironmentName(name string) bool {
	return environmentNameRegex.MatchString(name)
}

// IsValidAzureName covers resource group, managed identity and application
// display names.
func IsValidAzureName(name string) bool {
	return azureNameRegex.MatchString(name) && !strings.HasSuffix(name, ".")
}

// IsValidAzureID accepts subscription and tenant identifiers. They are GUIDs
// in Azure, the check only rejects values that can't be placed in a path.
func IsValidAzureID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/ \t\n'")
}
