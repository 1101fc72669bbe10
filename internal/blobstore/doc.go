// Package blobstore 是归档服务端使用的磁盘存储：每个 {key}.tar.gz 归档对应
// StoragePath/<name> 下的一个文件。写入通过临时文件 + rename 保证读者永远看不到
// 半截文件，同名写入在进程内串行化，且默认“先写者胜”，不会覆盖已有归档。
package blobstore
