// Package logx is remindbot's structured logger, a value-type wrapper over
// zerolog. Components derive loggers with fixed fields (comp, tenant, rid)
// and never import zerolog themselves. Loggers obtained from a Service follow
// level and sink changes made by Service.Apply on config reload.
package logx
