// Package common holds the pieces shared by the command line tool and library
// users: the logger factory plugged into the dragonboat logger package and the
// cache configuration.
package common
