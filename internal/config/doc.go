// Package config holds the client configuration: inline variables, variable
// loaders, the providers file, and limit overrides for code mode and auditing.
//
// Configuration is YAML. LoadConfig reads a single file and fills defaults
// for everything absent; a missing file is not an error and yields the
// defaults. Variable references of the form ${NAME} or $NAME inside provider
// definitions resolve against inline variables first, then the configured
// loaders (dotenv files), then the process environment. An unresolvable
// reference fails registration rather than passing through literally.
//
// The providers file lists call-template definitions in JSON or YAML. All of
// the historical shapes are accepted: a bare array, an object with a
// "providers" key (array or single object), an object with
// "manual_call_templates", or a single template object. ProvidersWatcher
// re-reads it on change using fsnotify.
package config
