package utils

import "golang.org/x/mod/semver"

func IsGTEVersion(curVersion, minVersion string) bool {
	if len(curVersion) > 0 && curVersion[0] != 'v' {
		curVersion = "v" + curVersion
	}
	if len(minVersion) > 0 && minVersion[0] != 'v' {
		minVersion = "v" + minVersion
	}

	if !semver.IsValid(curVersion) {
		return false
	}

	return semver.Compare(curVersion, minVersion) >= 0
}
