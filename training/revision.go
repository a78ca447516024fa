package training

import (
	"github.com/go-git/go-git/v5"
)

// UnknownCommit 无法取得代码版本时记录的值
const UnknownCommit = "unknown_commit"

// CodeRevision 返回dir所在git仓库HEAD的前8位哈希，会向上查找父目录
func CodeRevision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return UnknownCommit, err
	}
	head, err := repo.Head()
	if err != nil {
		return UnknownCommit, err
	}
	return head.Hash().String()[:8], nil
}
