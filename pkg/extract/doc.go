// Package extract unpacks deposited packages into deposit directories.
//
// Zip, tar and gzip-compressed tar packages are unpacked entry by entry; anything
// else is stored as a single file. Entries whose paths would leave the target
// directory are rejected. MimeDetector identifies file formats by content and is
// used both to find nested archives and to characterize extracted files.
package extract
