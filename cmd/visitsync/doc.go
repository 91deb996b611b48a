// Command visitsync controls the visitsyncd daemon over its Unix socket:
// connectivity status, manual sync triggers, and queue inspection.
package main
