package policy

// BuiltinPolicies returns the deposit policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		nonEmptyPackagePolicy(),
		hiddenFilesPolicy(),
		emptyFilesPolicy(),
		bagDeclarationPolicy(),
	}
}

func nonEmptyPackagePolicy() Policy {
	return Policy{
		Name:        "non-empty-package",
		Description: "Rejects deposits whose package holds no files",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"package"},
		Rego: `package deposit.nonempty

deny contains msg if {
	count(input.deposit.files) == 0
	msg := sprintf("deposit %s contains no files", [input.deposit.id])
}
`,
	}
}

func hiddenFilesPolicy() Policy {
	return Policy{
		Name:        "hidden-files",
		Description: "Flags dot files and files inside dot directories",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"package", "hygiene"},
		Rego: `package deposit.hidden

deny contains violation if {
	some file in input.deposit.files
	some part in split(file.path, "/")
	startswith(part, ".")
	violation := {
		"message": sprintf("hidden file %s", [file.path]),
		"file": file.path,
	}
}
`,
	}
}

func emptyFilesPolicy() Policy {
	return Policy{
		Name:        "empty-files",
		Description: "Flags zero-length files",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"package", "hygiene"},
		Rego: `package deposit.emptyfiles

deny contains violation if {
	some file in input.deposit.files
	file.size == 0
	violation := {
		"message": sprintf("file %s is empty", [file.path]),
		"file": file.path,
	}
}
`,
	}
}

func bagDeclarationPolicy() Policy {
	return Policy{
		Name:        "bag-declaration",
		Description: "Flags BagIt manifests without a bagit.txt declaration",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"bagit"},
		Rego: `package deposit.bag

manifest(path) if regex.match("(^|/)(tag)?manifest-[a-z0-9]+[.]txt$", path)

declared if {
	some file in input.deposit.files
	file.name == "bagit.txt"
}

deny contains violation if {
	some file in input.deposit.files
	manifest(file.path)
	not declared
	violation := {
		"message": sprintf("manifest %s found but the package has no bagit.txt", [file.path]),
		"file": file.path,
	}
}
`,
	}
}
