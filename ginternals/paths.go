package ginternals

import (
	"path"
	"strings"
)

// Relative, UNIX-style paths inside a .git directory. Refs must always
// be stored with forward slashes; backends are in charge of converting
// to the host's separator when touching the real filesystem.
const (
	RefsDirName      = "refs"
	RefsTagsRelPath  = RefsDirName + "/tags"
	RefsHeadsRelPath = RefsDirName + "/heads"
	RefsRemoteRelPath = RefsDirName + "/remotes"

	ObjectsDirName     = "objects"
	ObjectsInfoRelPath = ObjectsDirName + "/info"
	ObjectsPackRelPath = ObjectsDirName + "/pack"

	ConfigFileName      = "config"
	DescriptionFileName = "description"
	PackedRefsFileName  = "packed-refs"
	HeadFileName        = "HEAD"
	IndexFileName       = "index"
	LogsDirName         = "logs"
	ShallowFileName     = "shallow"

	MergeHeadFileName       = "MERGE_HEAD"
	MergeMsgFileName        = "MERGE_MSG"
	MergeModeFileName       = "MERGE_MODE"
	OrigHeadFileName        = "ORIG_HEAD"
	CherryPickHeadFileName  = "CHERRY_PICK_HEAD"
)

// LocalTagFullName returns the full name of a tag.
// ex. for "my-tag" returns "refs/tags/my-tag"
func LocalTagFullName(shortName string) string {
	return path.Join(RefsTagsRelPath, shortName)
}

// LocalTagShortName returns the short name of a tag.
// ex. for refs/tags/my-tag returns my-tag
func LocalTagShortName(fullName string) string {
	return strings.TrimPrefix(fullName, RefsTagsRelPath+"/")
}

// LocalBranchFullName returns the full name of a branch.
// ex. for "main" returns "refs/heads/main"
func LocalBranchFullName(shortName string) string {
	return path.Join(RefsHeadsRelPath, shortName)
}

// LocalBranchShortName returns the short name of a branch.
// ex. for "refs/heads/main" returns "main"
func LocalBranchShortName(fullName string) string {
	return strings.TrimPrefix(fullName, RefsHeadsRelPath+"/")
}

// RemoteBranchFullName returns the full name of a remote-tracking branch.
// ex. for ("origin", "main") returns "refs/remotes/origin/main"
func RemoteBranchFullName(remote, shortName string) string {
	return path.Join(RefsRemoteRelPath, remote, shortName)
}

// RefFullName returns the UNIX path of a ref given its short form,
// e.g. "heads/main" -> "refs/heads/main".
func RefFullName(shortName string) string {
	return path.Join(RefsDirName, shortName)
}

// LooseObjectRelPath returns the relative path of a loose object.
// Path is objects/first_2_chars_of_sha/remaining_chars_of_sha
//
// Ex. path of fcfe68a0e44e04bd7fd564fc0b75f1ae457e18b3 is:
// objects/fc/fe68a0e44e04bd7fd564fc0b75f1ae457e18b3
func LooseObjectRelPath(hex string) string {
	return path.Join(ObjectsDirName, hex[:2], hex[2:])
}

// ReflogRelPath returns the relative path of a ref's reflog file.
// ex. for "refs/heads/main" returns "logs/refs/heads/main"
func ReflogRelPath(refName string) string {
	return path.Join(LogsDirName, refName)
}
